package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"relay-chat-server/internal/protocol"
	"relay-chat-server/internal/session"
	"relay-chat-server/internal/store"
)

// bcryptCost balances hashing time against brute-force resistance.
const bcryptCost = 12

// AuthService handles login, registration, and credential changes.
type AuthService struct {
	users    UserRepo
	sessions *session.Manager
	log      *zap.Logger
}

func NewAuthService(users UserRepo, sessions *session.Manager, log *zap.Logger) *AuthService {
	return &AuthService{users: users, sessions: sessions, log: log}
}

func (a *AuthService) HandleLogin(ctx context.Context, s *session.Session, req *protocol.LoginRequest) {
	user, err := a.users.FindByUsername(ctx, req.Username)
	if err != nil {
		a.log.Error("login lookup failed", zap.String("username", req.Username), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	if user == nil {
		s.Send(protocol.NewError("User not found.", codeNoSuchUser))
		return
	}
	if !verifyPassword(req.Password, user.PasswordHash) {
		s.Send(protocol.NewError("Password incorrect.", codeBadRequest))
		return
	}

	a.sessions.RegisterAuthenticated(s, user.ID, user.Username)
	s.Send(&protocol.Envelope{
		Type: protocol.TypeLoginResponse,
		LoginResponse: &protocol.LoginResponse{
			Success: true,
			UserID:  user.ID,
			Message: "Login successful. Welcome, " + user.Username + "!",
		},
	})
}

func (a *AuthService) HandleRegister(ctx context.Context, s *session.Session, req *protocol.RegistrationRequest) {
	existing, err := a.users.FindByUsername(ctx, req.Username)
	if err != nil {
		a.log.Error("registration lookup failed", zap.String("username", req.Username), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	if existing != nil {
		s.Send(protocol.NewError("Username already taken.", codeBadRequest))
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		a.log.Error("password hashing failed", zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	user := &store.User{Username: req.Username, PasswordHash: hash}
	if err := a.users.Add(ctx, user); err != nil {
		a.log.Error("registration insert failed", zap.String("username", req.Username), zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}

	s.Send(&protocol.Envelope{
		Type: protocol.TypeRegistrationResponse,
		RegistrationResponse: &protocol.RegistrationResponse{
			Success: true,
			Message: "Registration successful. You can now log in, " + user.Username + "!",
		},
	})
}

func (a *AuthService) HandleChangePassword(ctx context.Context, s *session.Session, req *protocol.ChangePasswordRequest) {
	user, err := a.users.FindByUsername(ctx, s.Username())
	if err != nil {
		a.log.Error("change-password lookup failed", zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	if user == nil {
		s.Send(protocol.NewError("User not found.", codeNoSuchUser))
		return
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		s.Send(protocol.NewError("Old password and new password must be provided.", codeBadRequest))
		return
	}
	if !verifyPassword(req.OldPassword, user.PasswordHash) {
		s.Send(protocol.NewError("Old password is incorrect.", codeBadRequest))
		return
	}
	if req.OldPassword == req.NewPassword {
		s.Send(protocol.NewError("New password must be different from old password.", codeBadRequest))
		return
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		a.log.Error("password hashing failed", zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	user.PasswordHash = hash
	if err := a.users.Update(ctx, user); err != nil {
		a.log.Error("change-password update failed", zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}

	s.Send(&protocol.Envelope{
		Type: protocol.TypeChangePasswordResponse,
		ChangePasswordResponse: &protocol.ChangePasswordResponse{
			Success: true,
			Message: "Password changed successfully.",
		},
	})
}

func (a *AuthService) HandleChangeUsername(ctx context.Context, s *session.Session, req *protocol.ChangeUsernameRequest) {
	user, err := a.users.FindByUsername(ctx, s.Username())
	if err != nil {
		a.log.Error("change-username lookup failed", zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	if user == nil {
		s.Send(protocol.NewError("User not found.", codeNoSuchUser))
		return
	}
	if req.NewUsername == "" {
		s.Send(protocol.NewError("New username must be provided.", codeBadRequest))
		return
	}
	if req.NewUsername == user.Username {
		s.Send(protocol.NewError("New username must be different from current username.", codeBadRequest))
		return
	}
	taken, err := a.users.FindByUsername(ctx, req.NewUsername)
	if err != nil {
		a.log.Error("change-username availability check failed", zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	if taken != nil {
		s.Send(protocol.NewError("Username already taken.", codeBadRequest))
		return
	}

	user.Username = req.NewUsername
	if err := a.users.Update(ctx, user); err != nil {
		a.log.Error("change-username update failed", zap.Error(err))
		s.Send(protocol.NewError("Internal server error.", codeInternal))
		return
	}
	a.sessions.UpdateUsername(s, user.Username)

	s.Send(&protocol.Envelope{
		Type: protocol.TypeChangeUsernameResponse,
		ChangeUsernameResponse: &protocol.ChangeUsernameResponse{
			Success: true,
			Message: "Username changed successfully to " + req.NewUsername + ".",
		},
	})
}

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func verifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
