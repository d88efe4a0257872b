package services

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/campusgate/gatepass/internal/auth"
	"github.com/campusgate/gatepass/internal/db/models"
	"github.com/campusgate/gatepass/internal/db/repositories"
)

// LoginResult is a signed token and the principal it identifies
type LoginResult struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Principal auth.Principal `json:"user"`
}

// StudentSignup holds the self-registration form
type StudentSignup struct {
	StudentNumber string `json:"student_id"`
	Name          string `json:"name"`
	Course        string `json:"course"`
	Email         string `json:"email"`
	Password      string `json:"password"`
}

// GuardInput provisions a security guard
type GuardInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile describes the current principal
type Profile struct {
	auth.Principal
	StudentNumber string `json:"student_id,omitempty"`
	Course        string `json:"course,omitempty"`
	GuardCode     string `json:"guard_id,omitempty"`
}

// Accounts authenticates principals and provisions accounts
type Accounts struct {
	store       AccountStore
	tokenTTL    time.Duration
	allowSignup bool
}

// NewAccounts issues tokens valid for tokenTTL
func NewAccounts(store AccountStore, tokenTTL time.Duration, allowSignup bool) *Accounts {
	return &Accounts{store: store, tokenTTL: tokenTTL, allowSignup: allowSignup}
}

var errBadCredentials = &RuleError{Kind: KindUnauthorized, Message: "Invalid credentials."}

type credential struct {
	principal auth.Principal
	hash      string
}

func (a *Accounts) lookup(ctx context.Context, kind auth.Kind, email string) (*credential, error) {
	switch kind {
	case auth.KindAdmin:
		admin, err := a.store.GetAdminByEmail(ctx, email)
		if err != nil || admin == nil {
			return nil, err
		}
		return &credential{auth.Principal{Kind: kind, ID: admin.ID, Email: admin.Email, Name: admin.Name}, admin.PasswordHash}, nil
	case auth.KindSecurityGuard:
		guard, err := a.store.GetGuardByEmail(ctx, email)
		if err != nil || guard == nil {
			return nil, err
		}
		hash := ""
		if guard.PasswordHash != nil {
			hash = *guard.PasswordHash
		}
		return &credential{auth.Principal{Kind: kind, ID: guard.ID, Email: guard.Email, Name: guard.Name}, hash}, nil
	default:
		student, err := a.store.GetStudentByEmail(ctx, email)
		if err != nil || student == nil {
			return nil, err
		}
		return &credential{auth.Principal{Kind: kind, ID: student.ID, Email: student.Email, Name: student.Name}, student.PasswordHash}, nil
	}
}

// Login checks a password. With an empty role the admin, guard, and student
// tables are tried in that order.
func (a *Accounts) Login(ctx context.Context, email, password, role string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errBadCredentials
	}

	kinds := []auth.Kind{auth.KindAdmin, auth.KindSecurityGuard, auth.KindStudent}
	if role != "" {
		kind, err := auth.ParseKind(role)
		if err != nil {
			return nil, invalidField("role", "Role must be student, admin, or security_guard.")
		}
		kinds = []auth.Kind{kind}
	}

	for _, kind := range kinds {
		cred, err := a.lookup(ctx, kind, email)
		if err != nil {
			return nil, err
		}
		if cred == nil || !auth.CheckPassword(password, cred.hash) {
			continue
		}
		return a.issue(cred.principal)
	}
	slog.Info("login failed", "email", email)
	return nil, errBadCredentials
}

func (a *Accounts) issue(p auth.Principal) (*LoginResult, error) {
	token, err := auth.GenerateJWT(p, a.tokenTTL)
	if err != nil {
		return nil, err
	}
	ttl := a.tokenTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return &LoginResult{Token: token, ExpiresAt: time.Now().Add(ttl), Principal: p}, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// RegisterStudent creates a student account and signs it in
func (a *Accounts) RegisterStudent(ctx context.Context, in StudentSignup) (*LoginResult, error) {
	if !a.allowSignup {
		return nil, forbidden("Student self-registration is disabled.")
	}
	in.StudentNumber = strings.TrimSpace(in.StudentNumber)
	in.Name = strings.TrimSpace(in.Name)
	in.Course = strings.TrimSpace(in.Course)
	in.Email = strings.TrimSpace(in.Email)

	switch {
	case in.StudentNumber == "":
		return nil, invalidField("student_id", "The student id field is required.")
	case in.Name == "":
		return nil, invalidField("name", "The name field is required.")
	case in.Course == "":
		return nil, invalidField("course", "The course field is required.")
	case !validEmail(in.Email):
		return nil, invalidField("email", "The email must be a valid email address.")
	}

	if existing, err := a.store.GetStudentByEmail(ctx, in.Email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, invalidField("email", "The email has already been taken.")
	}
	if existing, err := a.store.GetStudentByNumber(ctx, in.StudentNumber); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, invalidField("student_id", "The student id has already been taken.")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, invalidField("password", err.Error())
	}
	student := &models.Student{
		StudentNumber: in.StudentNumber,
		Name:          in.Name,
		Course:        in.Course,
		Email:         in.Email,
		PasswordHash:  hash,
	}
	if err := a.store.CreateStudent(ctx, student); err != nil {
		if repositories.IsUniqueViolation(err) {
			return nil, conflict("A student with this email or student id already exists.")
		}
		return nil, err
	}
	slog.Info("student registered", "student_id", student.ID)
	return a.issue(auth.Principal{Kind: auth.KindStudent, ID: student.ID, Email: student.Email, Name: student.Name})
}

// Me loads the profile behind a principal
func (a *Accounts) Me(ctx context.Context, p auth.Principal) (*Profile, error) {
	switch p.Kind {
	case auth.KindStudent:
		s, err := a.store.GetStudentByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, notFound("Account not found.")
		}
		return &Profile{Principal: auth.Principal{Kind: p.Kind, ID: s.ID, Email: s.Email, Name: s.Name},
			StudentNumber: s.StudentNumber, Course: s.Course}, nil
	case auth.KindAdmin:
		ad, err := a.store.GetAdminByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if ad == nil {
			return nil, notFound("Account not found.")
		}
		return &Profile{Principal: auth.Principal{Kind: p.Kind, ID: ad.ID, Email: ad.Email, Name: ad.Name}}, nil
	case auth.KindSecurityGuard:
		g, err := a.store.GetGuardByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if g == nil {
			return nil, notFound("Account not found.")
		}
		return &Profile{Principal: auth.Principal{Kind: p.Kind, ID: g.ID, Email: g.Email, Name: g.Name},
			GuardCode: g.GuardCode}, nil
	}
	return nil, forbidden("Unauthorized.")
}

// CreateGuard provisions a guard with the next sequential guard code. actor
// is nil when called from the command line.
func (a *Accounts) CreateGuard(ctx context.Context, actor *auth.Principal, in GuardInput) (*models.SecurityGuard, error) {
	if actor != nil && actor.Kind != auth.KindAdmin {
		return nil, forbidden("Unauthorized. Admin access required.")
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" {
		return nil, invalidField("name", "The name field is required.")
	}
	if !validEmail(in.Email) {
		return nil, invalidField("email", "The email must be a valid email address.")
	}
	if existing, err := a.store.GetGuardByEmail(ctx, in.Email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, invalidField("email", "The email has already been taken.")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, invalidField("password", err.Error())
	}
	code, err := a.store.NextGuardCode(ctx)
	if err != nil {
		return nil, err
	}
	guard := &models.SecurityGuard{GuardCode: code, Name: in.Name, Email: in.Email, PasswordHash: &hash}
	if err := a.store.CreateGuard(ctx, guard); err != nil {
		if repositories.IsUniqueViolation(err) {
			return nil, conflict("A security guard with this email or code already exists.")
		}
		return nil, err
	}
	slog.Info("security guard provisioned", "guard_id", guard.ID, "guard_code", guard.GuardCode)
	return guard, nil
}

// ListGuards returns every guard for an admin
func (a *Accounts) ListGuards(ctx context.Context, actor auth.Principal) ([]models.SecurityGuard, error) {
	if actor.Kind != auth.KindAdmin {
		return nil, forbidden("Unauthorized. Admin access required.")
	}
	return a.store.ListGuards(ctx)
}

// CreateAdmin provisions an administrator from the command line
func (a *Accounts) CreateAdmin(ctx context.Context, name, email, password string) (*models.Admin, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return nil, invalidField("name", "The name field is required.")
	}
	if !validEmail(email) {
		return nil, invalidField("email", "The email must be a valid email address.")
	}
	if existing, err := a.store.GetAdminByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, invalidField("email", "The email has already been taken.")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, invalidField("password", err.Error())
	}
	admin := &models.Admin{Name: name, Email: email, PasswordHash: hash}
	if err := a.store.CreateAdmin(ctx, admin); err != nil {
		return nil, err
	}
	return admin, nil
}
