//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/versatiles/printops/internal/api"
	"github.com/versatiles/printops/internal/audit"
	"github.com/versatiles/printops/internal/auth"
	"github.com/versatiles/printops/internal/config"
	"github.com/versatiles/printops/internal/database"
	"github.com/versatiles/printops/internal/imports"
	mw "github.com/versatiles/printops/internal/middleware"
	"github.com/versatiles/printops/internal/nats/natstest"
	"github.com/versatiles/printops/internal/notifications"
	"github.com/versatiles/printops/internal/orders"
	"github.com/versatiles/printops/internal/quota"
	"github.com/versatiles/printops/internal/users"
)

const testPassword = "password123"

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	Events      *natstest.Recorder
	UserSvc     *users.Service
	QuotaSvc    *quota.Service
	OrderSvc    *orders.Service
	ImportSvc   *imports.Service
	AuditRepo   *audit.Repository
	NotifyRepo  *notifications.Repository
	Admin       users.Actor
	AdminToken  string
}

var testEnv *TestEnv

func testConfig() *config.Config {
	return &config.Config{
		Quota: config.QuotaConfig{
			DefaultBWLimit:    3000,
			DefaultColorLimit: 2000,
			WarningThreshold:  0.8,
			MinTopup:          1000,
			LockTimeout:       5 * time.Second,
		},
		Agents:    config.AgentsConfig{CapDefault: 10, CapMax: 30},
		Imports:   config.ImportsConfig{MaxFileBytes: 1 << 20, MaxRows: 500},
		RateLimit: config.RateLimitConfig{LoginMax: 1000, UploadMax: 1000, WindowSecond: 60},
	}
}

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("printops_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	if err := database.RunMigrations(dsn, getMigrationsPath()); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})

	cfg := testConfig()
	events := &natstest.Recorder{}

	userSvc := users.NewService(users.NewRepository(pool), cfg.Agents, auth.HashPassword, events)
	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", 15*time.Minute)
	authSvc := auth.NewService(jwtManager, userSvc, redisClient)
	userSvc.OnDeactivate(authSvc.Revoke)

	quotaSvc := quota.NewService(quota.NewRepository(pool, cfg.Quota.LockTimeout), cfg.Quota, events)
	orderRepo := orders.NewRepository(pool, cfg.Quota.LockTimeout)
	importRepo := imports.NewRepository(pool)
	orderSvc := orders.NewService(orderRepo, quotaSvc, userSvc, orders.NewCapacityGuard(orderRepo, cfg.Agents), events)
	orderSvc.SetImportOwners(importRepo)
	importSvc := imports.NewService(importRepo, orderSvc, orderRepo, userSvc, cfg.Imports, events)
	auditRepo := audit.NewRepository(pool)
	notifyRepo := notifications.NewRepository(pool)

	authHandler := auth.NewHandler(authSvc)
	userHandler := users.NewHandler(userSvc)
	quotaHandler := quota.NewHandler(quotaSvc, userSvc)
	orderHandler := orders.NewHandler(orderSvc)
	importHandler := imports.NewHandler(importSvc, cfg.Imports)
	notifyHandler := notifications.NewHandler(notifyRepo)
	auditHandler := audit.NewHandler(auditRepo)

	router := api.NewRouter(pool, nil, api.RouterConfig{
		LoginRateLimiter: mw.NewRateLimiter(redisClient, "login", cfg.RateLimit.LoginMax, cfg.RateLimit.WindowSecond).Middleware,
	}, api.HandlerSet{
		Login: authHandler.Login,

		Me:          userHandler.Me,
		CreateUser:  userHandler.Create,
		ListUsers:   userHandler.List,
		SetCapacity: userHandler.SetCapacity,
		SetActive:   userHandler.SetActive,

		CreateOrder:       orderHandler.Create,
		ListOrders:        orderHandler.List,
		OrderStats:        orderHandler.Stats,
		GetOrder:          orderHandler.Get,
		ChangeOrderStatus: orderHandler.ChangeStatus,

		QuotaSummary: quotaHandler.GetSummary,
		ListTopups:   quotaHandler.ListTopups,
		ApplyTopup:   quotaHandler.ApplyTopup,

		UploadImport:  importHandler.Upload,
		ListImports:   importHandler.List,
		GetImport:     importHandler.Get,
		ApproveImport: importHandler.Approve,
		RejectImport:  importHandler.Reject,

		ListNotifications:        notifyHandler.List,
		MarkNotificationRead:     notifyHandler.MarkRead,
		MarkAllNotificationsRead: notifyHandler.MarkAllRead,

		ListAuditLogs: auditHandler.List,

		AuthMiddleware: auth.Middleware(authSvc),
		AdminOnly:      auth.RequireRole(users.RoleAdmin),
	})

	server := httptest.NewServer(router)

	adminEmail := "admin@printops.test"
	if err := userSvc.EnsureAdmin(ctx, adminEmail, testPassword); err != nil {
		t.Fatalf("bootstrapping admin: %v", err)
	}
	adminUser, err := userSvc.GetByEmail(ctx, adminEmail)
	if err != nil || adminUser == nil {
		t.Fatalf("loading admin: %v", err)
	}

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		Events:      events,
		UserSvc:     userSvc,
		QuotaSvc:    quotaSvc,
		OrderSvc:    orderSvc,
		ImportSvc:   importSvc,
		AuditRepo:   auditRepo,
		NotifyRepo:  notifyRepo,
		Admin:       users.Actor{ID: adminUser.ID, Role: users.RoleAdmin},
	}
	testEnv.AdminToken = LoginUser(t, testEnv, adminEmail, testPassword)
	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

var seq atomic.Int64

func uniqueID() int64 {
	return time.Now().UnixNano() + seq.Add(1)
}

// CreateUser registers an account through the service and returns it as an actor.
func CreateUser(t *testing.T, env *TestEnv, role users.Role, capacity *int) (users.Actor, string) {
	t.Helper()
	email := fmt.Sprintf("%s-%d@printops.test", role, uniqueID())
	user, err := env.UserSvc.Create(context.Background(), env.Admin, users.CreateRequest{
		Email:           email,
		Password:        testPassword,
		FullName:        string(role),
		Role:            role,
		MaxActiveOrders: capacity,
	})
	if err != nil {
		t.Fatalf("creating %s: %v", role, err)
	}
	return users.Actor{ID: user.ID, Role: user.Role}, email
}

func LoginUser(t *testing.T, env *TestEnv, email, password string) string {
	t.Helper()
	body := map[string]string{"email": email, "password": password}
	resp := DoRequest(t, env, http.MethodPost, "/api/v1/auth/login", body, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: status %d", resp.StatusCode)
	}
	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	return data["access_token"].(string)
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

// UploadCSV posts content as the multipart "file" field.
func UploadCSV(t *testing.T, env *TestEnv, filename, content, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	part, err := mp.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	_, _ = part.Write([]byte(content))
	_ = mp.Close()

	req, err := http.NewRequest(http.MethodPost, env.Server.URL+"/api/v1/imports", &buf)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", mp.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}

func Data(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	return ParseResponse(t, resp)["data"].(map[string]any)
}

func ptr[T any](v T) *T { return &v }
