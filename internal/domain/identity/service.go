package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docassist/clinic/internal/platform/auth"
)

const minPasswordLen = 8

type Service struct {
	doctors     DoctorRepository
	patients    PatientRepository
	tokens      *auth.Tokens
	revocations auth.RevocationStore
	logger      zerolog.Logger
}

func NewService(doctors DoctorRepository, patients PatientRepository, tokens *auth.Tokens, revocations auth.RevocationStore, logger zerolog.Logger) *Service {
	return &Service{
		doctors:     doctors,
		patients:    patients,
		tokens:      tokens,
		revocations: revocations,
		logger:      logger,
	}
}

// -- Doctors --

func (s *Service) Register(ctx context.Context, name, email, password string) (*Doctor, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email is invalid", ErrValidation)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLen)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	d := &Doctor{Name: name, Email: email, PasswordHash: hash}
	if err := s.doctors.Create(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", d.ID.String()).Msg("doctor registered")
	return d, nil
}

type LoginResult struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Doctor    *Doctor   `json:"doctor"`
}

// Login never says which of email or password was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	d, err := s.doctors.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(d.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error().Err(err).Str("doctor_id", d.ID.String()).Msg("stored password hash unusable")
		}
		return nil, ErrInvalidCredentials
	}

	token, claims, err := s.tokens.Issue(d.ID, d.Email)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt.Time,
		Doctor:    d,
	}, nil
}

// Logout revokes the presented token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims) error {
	if claims == nil || claims.ID == "" {
		return fmt.Errorf("%w: no token to revoke", ErrValidation)
	}
	expires := time.Now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	if err := s.revocations.Revoke(ctx, claims.ID, expires); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor_id is required", ErrValidation)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if p.Age != nil && *p.Age < 0 {
		return fmt.Errorf("%w: age must not be negative", ErrValidation)
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, doctorID, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, doctorID, id)
}

func (s *Service) ListPatients(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Patient, int, error) {
	return s.patients.ListByDoctor(ctx, doctorID, limit, offset)
}

// OwnsPatient reports whether the patient exists and belongs to doctorID.
func (s *Service) OwnsPatient(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	_, err := s.patients.GetByID(ctx, doctorID, patientID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
