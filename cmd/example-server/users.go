package main

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"admission-gateway/middleware/pipeline/domain"
)

type user struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int64  `json:"age,omitempty"`
	Owner string `json:"owner,omitempty"`
}

// userStore é um repositório em memória só para a demonstração.
type userStore struct {
	mu     sync.Mutex
	nextID int
	users  map[int]user
}

func newUserStore() *userStore {
	return &userStore{nextID: 1, users: make(map[int]user)}
}

var createUserSchema = &domain.Schema{
	UnknownFields: domain.UnknownReject,
	Fields: []domain.Field{
		{Name: "name", Type: domain.TypeString, Required: true, Rules: "min=1,max=100"},
		{Name: "email", Type: domain.TypeString, Required: true, Rules: "email"},
		{Name: "age", Type: domain.TypeInteger, Coerce: true, Rules: "min=0,max=150"},
	},
}

var listUsersSchema = &domain.Schema{
	Fields: []domain.Field{
		{Name: "limit", In: domain.InQuery, Type: domain.TypeInteger, Coerce: true, Rules: "min=1,max=100"},
	},
}

func (s *userStore) list(_ context.Context, rc *domain.RequestContext) (domain.Result, error) {
	limit := 20
	if v, ok := rc.Payload["limit"].(int64); ok {
		limit = int(v)
	}

	s.mu.Lock()
	out := make([]user, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return domain.Result{Data: out}, nil
}

func (s *userStore) get(_ context.Context, rc *domain.RequestContext) (domain.Result, error) {
	id, err := strconv.Atoi(rc.Request.Params["id"])
	if err != nil {
		return domain.Result{}, domain.NotFound("user not found")
	}

	s.mu.Lock()
	u, ok := s.users[id]
	s.mu.Unlock()
	if !ok {
		return domain.Result{}, domain.NotFound("user not found")
	}
	return domain.Result{Data: u}, nil
}

func (s *userStore) create(_ context.Context, rc *domain.RequestContext) (domain.Result, error) {
	u := user{
		Name:  rc.Payload["name"].(string),
		Email: rc.Payload["email"].(string),
	}
	if age, ok := rc.Payload["age"].(int64); ok {
		u.Age = age
	}
	if rc.Principal != nil {
		u.Owner = rc.Principal.Subject
	}

	s.mu.Lock()
	u.ID = s.nextID
	s.nextID++
	s.users[u.ID] = u
	s.mu.Unlock()

	return domain.Result{Data: u, Message: "user created", Status: 201}, nil
}

func (s *userStore) remove(_ context.Context, rc *domain.RequestContext) (domain.Result, error) {
	id, err := strconv.Atoi(rc.Request.Params["id"])
	if err != nil {
		return domain.Result{}, domain.NotFound("user not found")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return domain.Result{}, domain.NotFound("user not found")
	}
	delete(s.users, id)
	return domain.Result{Message: "user deleted"}, nil
}
