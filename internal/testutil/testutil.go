package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"offcut-ledger-backend/internal/config"
	"offcut-ledger-backend/internal/models"
)

const JWTSecret = "offcut-ledger-test-secret"

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Router *gin.Engine
	T      *testing.T
}

// SetupTestDB opens a migrated sqlite database in the test's temp dir.
// A single connection keeps sqlite writers serialised.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "offcuts.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRedis starts an in-process redis server and returns a client for it.
func SetupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
	})
	return rdb, mr
}

func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// GenerateTestToken creates a signed capability token
func GenerateTestToken(subject string, perms []string) string {
	if perms == nil {
		perms = []string{}
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"perms": perms,
		"iss":   "offcut-ledger",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte(JWTSecret))
	return signed
}

// WriterToken returns a token allowed to change the ledger
func WriterToken() string {
	return GenerateTestToken("planner@test", []string{"offcuts:write"})
}

// DoRequest executes a JSON request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// DoUpload posts content as the multipart "file" field
func DoUpload(r *gin.Engine, path, filename string, content []byte, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", filename)
	fw.Write(content)
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedBatch stores a committed batch with the given line items.
func SeedBatch(t *testing.T, db *gorm.DB, code string, lines ...models.BatchLineItem) *models.Batch {
	t.Helper()
	for i := range lines {
		if lines[i].LineNumber == 0 {
			lines[i].LineNumber = i + 1
		}
		if lines[i].Quantity == 0 {
			lines[i].Quantity = 1
		}
	}
	batch := &models.Batch{
		BatchCode:  code,
		BatchDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		SourceFile: fmt.Sprintf("%s.txt", code),
		LineItems:  lines,
	}
	if err := db.Create(batch).Error; err != nil {
		t.Fatalf("Failed to seed batch %s: %v", code, err)
	}
	return batch
}

// SeedOffcut stores an available offcut.
func SeedOffcut(t *testing.T, db *gorm.DB, profile string, length int, legacyID int) *models.Offcut {
	t.Helper()
	legacy := legacyID
	o := &models.Offcut{
		LegacyOffcutID:  &legacy,
		MaterialProfile: profile,
		LengthMM:        length,
		Available:       true,
	}
	if err := db.Create(o).Error; err != nil {
		t.Fatalf("Failed to seed offcut: %v", err)
	}
	return o
}
