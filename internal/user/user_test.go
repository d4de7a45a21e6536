package user_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mind-engage/answer-eval/internal/db/dbtest"
	"github.com/mind-engage/answer-eval/internal/user"
)

func TestStore_UpsertAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := user.NewStore(dbtest.Open(t))

	u, err := s.Upsert(ctx, user.User{ID: "teacher001", Username: "teacher001", Role: user.RoleTeacher}, "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if u.PasswordHash == "" || u.PasswordHash == "s3cret" {
		t.Fatal("password not hashed")
	}
	if _, err := s.Authenticate(ctx, "teacher001", "s3cret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := s.Authenticate(ctx, "teacher001", "wrong"); !errors.Is(err, user.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if _, err := s.Authenticate(ctx, "ghost", "x"); !errors.Is(err, user.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}

	// role change without password keeps the hash
	u2, err := s.Upsert(ctx, user.User{ID: "teacher001", Username: "teacher001", Role: user.RoleAdmin}, "")
	if err != nil {
		t.Fatal(err)
	}
	if u2.Role != user.RoleAdmin || u2.PasswordHash != u.PasswordHash {
		t.Fatalf("after update: %+v", u2)
	}
}

func TestStore_InvalidRoleAndList(t *testing.T) {
	ctx := context.Background()
	s := user.NewStore(dbtest.Open(t))
	if _, err := s.Upsert(ctx, user.User{ID: "x", Username: "x", Role: "guest"}, ""); !errors.Is(err, user.ErrInvalidRole) {
		t.Fatalf("want ErrInvalidRole, got %v", err)
	}
	for _, u := range []user.User{
		{ID: "s2", Username: "student002", Role: user.RoleStudent},
		{ID: "s1", Username: "student001", Role: user.RoleStudent},
		{ID: "t1", Username: "teacher001", Role: user.RoleTeacher},
	} {
		if _, err := s.Upsert(ctx, u, ""); err != nil {
			t.Fatal(err)
		}
	}
	students, err := s.List(ctx, user.RoleStudent)
	if err != nil {
		t.Fatal(err)
	}
	if len(students) != 2 || students[0].Username != "student001" {
		t.Fatalf("students = %+v", students)
	}
	all, _ := s.List(ctx, "")
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}
	if _, err := s.Get(ctx, "nobody"); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStore_SetRole(t *testing.T) {
	ctx := context.Background()
	s := user.NewStore(dbtest.Open(t))
	for _, u := range []user.User{
		{ID: "a1", Username: "root", Role: user.RoleAdmin},
		{ID: "t1", Username: "teacher001", Role: user.RoleTeacher},
	} {
		if _, err := s.Upsert(ctx, u, ""); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.SetRole(ctx, "root", user.RoleTeacher); !errors.Is(err, user.ErrLastAdmin) {
		t.Fatalf("want ErrLastAdmin, got %v", err)
	}
	u, err := s.SetRole(ctx, "teacher001", user.RoleAdmin)
	if err != nil || u.ID != "t1" || u.Role != user.RoleAdmin {
		t.Fatalf("promote: %+v %v", u, err)
	}
	// two admins now, so demotion is allowed
	if _, err := s.SetRole(ctx, "a1", user.RoleStudent); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetRole(ctx, "ghost", user.RoleStudent); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.SetRole(ctx, "t1", "owner"); !errors.Is(err, user.ErrInvalidRole) {
		t.Fatalf("want ErrInvalidRole, got %v", err)
	}
}

func TestStore_ChangePassword(t *testing.T) {
	ctx := context.Background()
	s := user.NewStore(dbtest.Open(t))
	if _, err := s.Upsert(ctx, user.User{ID: "s1", Username: "student001", Role: user.RoleStudent}, "old-pw"); err != nil {
		t.Fatal(err)
	}
	if err := s.ChangePassword(ctx, "s1", "wrong", "new-pw"); !errors.Is(err, user.ErrInvalidCredentials) {
		t.Fatalf("want ErrInvalidCredentials, got %v", err)
	}
	if err := s.ChangePassword(ctx, "s1", "old-pw", "new-pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authenticate(ctx, "student001", "new-pw"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestStore_BulkUpsert(t *testing.T) {
	ctx := context.Background()
	s := user.NewStore(dbtest.Open(t))
	if _, err := s.Upsert(ctx, user.User{ID: "s1", Username: "student001", Role: user.RoleStudent}, "pw1"); err != nil {
		t.Fatal(err)
	}

	ins, upd, err := s.BulkUpsert(ctx, []user.Import{
		{ID: "s1", Username: "student001"},
		{ID: "s2", Username: "student002", Password: "pw2"},
	})
	if err != nil || ins != 1 || upd != 1 {
		t.Fatalf("ins=%d upd=%d err=%v", ins, upd, err)
	}
	if _, err := s.Authenticate(ctx, "student001", "pw1"); err != nil {
		t.Fatal("existing hash lost on update")
	}

	// a bad row rolls back the batch
	_, _, err = s.BulkUpsert(ctx, []user.Import{
		{ID: "s3", Username: "student003", Password: "pw3"},
		{ID: "s4", Username: "student004"},
	})
	if !errors.Is(err, user.ErrPasswordRequired) {
		t.Fatalf("want ErrPasswordRequired, got %v", err)
	}
	if _, err := s.Get(ctx, "s3"); !errors.Is(err, user.ErrNotFound) {
		t.Fatal("batch was not rolled back")
	}
}
