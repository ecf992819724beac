package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gig-messenger/controller"
	"gig-messenger/database"
	"gig-messenger/messenger"
	"gig-messenger/model"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "router-test-key"

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && regexMatch(r.act, p.act)
`

// restService serves fixed answers and remembers the caller.
type restService struct {
	controller.Service
	userID string
}

func (s *restService) MyEntities(_ context.Context, userID string) ([]model.EntitySummary, error) {
	s.userID = userID
	return []model.EntitySummary{}, nil
}

func (s *restService) Audit(_ context.Context, id uint, page, limit int) (messenger.Page, error) {
	return messenger.Page{Messages: []model.Message{}, Page: page}, nil
}

func token(t *testing.T, id string, otp bool) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"id":  id,
		"otp": otp,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testKey))
	require.NoError(t, err)
	return signed
}

func newRestApp(t *testing.T, svc controller.Service) *fiber.App {
	t.Helper()
	t.Setenv("JWT_ACCESS_KEY", testKey)

	m, err := casbinmodel.NewModelFromString(rbacModel)
	require.NoError(t, err)
	enforcer, err := casbin.NewEnforcer(m)
	require.NoError(t, err)
	_, err = enforcer.AddPolicy(database.AdminRole, database.AdminPath, database.AdminMethods)
	require.NoError(t, err)
	require.NoError(t, database.GrantAdmins(enforcer, []string{"root"}))

	app := fiber.New()
	Rest(app, controller.NewMessenger(svc, zerolog.Nop()), RestOptions{Enforcer: enforcer, Log: zerolog.Nop()})
	return app
}

func get(t *testing.T, app *fiber.App, target, bearer string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestRestAuthentication(t *testing.T) {
	svc := &restService{}
	app := newRestApp(t, svc)

	assert.Equal(t, http.StatusBadRequest, get(t, app, "/v1/messenger/entities", ""))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "/v1/messenger/entities", "not-a-token"))
	assert.Equal(t, http.StatusBadRequest, get(t, app, "/v1/messenger/entities", token(t, "u1", true)), "2FA pending")

	assert.Equal(t, http.StatusOK, get(t, app, "/v1/messenger/entities", token(t, "u1", false)))
	assert.Equal(t, "u1", svc.userID)
}

func TestRestAdminRequiresRole(t *testing.T) {
	app := newRestApp(t, &restService{})

	assert.Equal(t, http.StatusForbidden, get(t, app, "/v1/admin/conversations/1/messages", token(t, "u1", false)))
	assert.Equal(t, http.StatusOK, get(t, app, "/v1/admin/conversations/1/messages", token(t, "root", false)))
}

func TestRestMetrics(t *testing.T) {
	app := newRestApp(t, &restService{})
	assert.Equal(t, http.StatusOK, get(t, app, "/metrics", ""))
}
