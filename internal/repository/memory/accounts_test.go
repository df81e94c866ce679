package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/incplusplus/thermostat-accounts/internal/core/domain"
	"github.com/incplusplus/thermostat-accounts/internal/repository"
)

func newAccount(id, email string) domain.Account {
	role := domain.NewRoleFromNames(domain.RoleUser, domain.PrivilegeRead)
	return domain.NewAccount(id, email, "hash", []domain.Role{role}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestAccountRepositoryCreateIsCaseInsensitive(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()

	if err := repo.Create(ctx, newAccount("a1", "Owner@Example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, newAccount("a2", "owner@example.COM ")); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := repo.GetByEmail(ctx, "OWNER@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got.ID != "a1" || got.Email != "owner@example.com" {
		t.Fatalf("unexpected account %+v", got)
	}
}

func TestAccountRepositoryReturnsCopies(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()
	_ = repo.Create(ctx, newAccount("a1", "owner@example.com"))

	got, _ := repo.GetByID(ctx, "a1")
	got.Roles[0].Privileges[0].Name = "TAMPERED"

	again, _ := repo.GetByID(ctx, "a1")
	if again.Roles[0].Privileges[0].Name != domain.PrivilegeRead {
		t.Fatalf("stored roles must not alias returned values")
	}
}

func TestAccountRepositoryMutations(t *testing.T) {
	repo := NewAccountRepository()
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.Create(ctx, newAccount("a1", "owner@example.com"))

	if err := repo.SetVerified(ctx, "a1", at); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	if err := repo.SetVerified(ctx, "a1", at.Add(time.Hour)); err != nil {
		t.Fatalf("set verified must be idempotent: %v", err)
	}
	if err := repo.SetPasswordHash(ctx, "a1", "new-hash", at); err != nil {
		t.Fatalf("set hash: %v", err)
	}

	got, _ := repo.GetByID(ctx, "a1")
	if !got.IsVerified() || got.PasswordHash != "new-hash" || !got.PasswordChangedAt.Equal(at) {
		t.Fatalf("unexpected state %+v", got)
	}

	got.Email = "renamed@example.com"
	if err := repo.Save(ctx, *got); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := repo.GetByEmail(ctx, "owner@example.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("old email index should be dropped, got %v", err)
	}

	if err := repo.Delete(ctx, "a1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByEmail(ctx, "renamed@example.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := repo.SetPasswordHash(ctx, "a1", "x", at); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
