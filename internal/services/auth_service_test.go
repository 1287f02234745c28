package services

import (
	"errors"
	"testing"
	"time"
)

type authStubStore struct {
	users   map[string]*User
	tenants map[string]*Tenant
}

func newAuthStubStore() *authStubStore {
	return &authStubStore{users: map[string]*User{}, tenants: map[string]*Tenant{}}
}

func (s *authStubStore) FindUserByEmail(email string) (*User, error) {
	if u, ok := s.users[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *authStubStore) AddUser(u *User) error {
	if _, ok := s.users[u.Email]; ok {
		return errors.New("duplicate user")
	}
	cp := *u
	s.users[u.Email] = &cp
	return nil
}

func (s *authStubStore) AddTenant(t *Tenant) error {
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func TestAuthRegisterAndLogin(t *testing.T) {
	store := newAuthStubStore()
	svc := NewAuthService(store, func(uid, tid, email string, ttl time.Duration) (string, error) {
		return "token:" + uid + ":" + tid, nil
	})
	svc.now = func() time.Time { return time.Unix(0, 0) }
	svc.idGen = func(prefix string, n int) string { return prefix + "1234567" }

	res, err := svc.Register("reviewer@example.com", "Secret123", "QA Team")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if res.TenantID == "" || res.UserID == "" {
		t.Fatalf("expected ids in result: %+v", res)
	}
	if res.Token != "token:"+res.UserID+":"+res.TenantID {
		t.Fatalf("unexpected token %q", res.Token)
	}

	if _, err = svc.Register("reviewer@example.com", "Secret123", "QA Team"); err == nil {
		t.Fatalf("duplicate register should fail")
	}

	login, err := svc.Login("reviewer@example.com", "Secret123")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if login.TenantID != res.TenantID || login.UserID != res.UserID {
		t.Fatalf("login identity mismatch: %+v vs %+v", login, res)
	}

	if _, err := svc.Login("reviewer@example.com", "wrong"); err == nil {
		t.Fatalf("wrong password should fail")
	}
	if _, err := svc.Login("ghost@example.com", "Secret123"); err == nil {
		t.Fatalf("unknown user should fail")
	}
	if _, err := svc.Login("", ""); err == nil {
		t.Fatalf("empty credentials should fail")
	}
}
