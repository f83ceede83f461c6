package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ubuygold/stockmeta/internal/config"
	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/generator"
	"github.com/ubuygold/stockmeta/internal/keymanager"
	"github.com/ubuygold/stockmeta/internal/logger"
	"github.com/ubuygold/stockmeta/internal/model"
	"github.com/ubuygold/stockmeta/internal/runner"
	"github.com/ubuygold/stockmeta/internal/trends"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type fakeGenerator struct {
	mu    sync.Mutex
	err   error
	calls int
	// block, when set, holds every call until it is closed.
	block chan struct{}
}

func (f *fakeGenerator) GenerateMetadata(ctx context.Context, key string, req generator.MetadataRequest) (model.MetadataResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.MetadataResult{}, f.err
	}
	return model.MetadataResult{
		Title:       "Title for " + req.FileName,
		Description: "Description, with comma",
		Category:    "Nature",
		Keywords:    []string{"zebra", "apple"},
	}, nil
}

type fakeTrends struct{}

func (fakeTrends) List() (trends.Listing, error) {
	return trends.Listing{Source: trends.SourceCatalog, Trends: trends.Catalog()}, nil
}

type fakePrompts struct {
	err error
	key string
}

func (f *fakePrompts) GeneratePrompts(ctx context.Context, key string, req generator.PromptRequest) ([]model.GeneratedPrompt, error) {
	f.key = key
	if f.err != nil {
		return nil, f.err
	}
	return []model.GeneratedPrompt{{ID: "p1", Text: "A " + req.Topic, AspectRatio: "16:9"}}, nil
}

type testEnv struct {
	router  *gin.Engine
	store   db.Service
	keys    *keymanager.KeyManager
	gen     *fakeGenerator
	prompts *fakePrompts
	token   string
	userID  uint
}

func setup(t *testing.T) *testEnv {
	gin.SetMode(gin.TestMode)
	store, err := db.NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	km, err := keymanager.NewKeyManager(store, config.CredentialsConfig{
		RotationWindow:   7 * 24 * time.Hour,
		WarningWindow:    6 * 24 * time.Hour,
		FailureThreshold: 3,
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(km.Close)

	env := &testEnv{store: store, keys: km, gen: &fakeGenerator{}, prompts: &fakePrompts{}}
	registry := runner.NewRegistry(func(ownerID uint) *runner.Runner {
		return runner.New(runner.NewQueue(10), keymanager.UserSource(km, ownerID), env.gen, logger.Discard(), nil)
	})
	t.Cleanup(registry.StopAll)

	for _, u := range []*model.User{
		{Name: "Ana", Email: "ana@x.io", Token: "ana-token"},
		{Name: "Bo", Email: "bo@x.io", Token: "bo-token"},
	} {
		require.NoError(t, store.CreateUser(u))
	}
	env.token = "ana-token"
	ana, err := store.FindUserByToken("ana-token")
	require.NoError(t, err)
	env.userID = ana.ID

	handler := NewHandler(context.Background(), km, registry, fakeTrends{}, env.prompts, 1024, logger.Discard())
	env.router = gin.New()
	SetupRoutes(env.router, handler, store)
	return env
}

func (e *testEnv) request(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	return e.doAs(e.token, method, path, body)
}

func (e *testEnv) doAs(token, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return e.request(req, token)
}

func (e *testEnv) addKey(t *testing.T) KeyView {
	resp := e.do(http.MethodPost, "/api/keys", `{"key":"AIza-personal-0001"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var view KeyView
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	return view
}

func queueItems(t *testing.T, resp *httptest.ResponseRecorder) []runner.Item {
	var body struct {
		Items []runner.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body.Items
}

func TestRequiresToken(t *testing.T) {
	env := setup(t)
	assert.Equal(t, http.StatusUnauthorized, env.doAs("", http.MethodGet, "/api/trends", "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.doAs("nope", http.MethodGet, "/api/trends", "").Code)
}

func TestTrendsAndKeywords(t *testing.T) {
	env := setup(t)

	resp := env.do(http.MethodGet, "/api/trends", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var listing trends.Listing
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &listing))
	assert.Equal(t, trends.SourceCatalog, listing.Source)
	assert.Len(t, listing.Trends, 6)

	resp = env.do(http.MethodGet, "/api/keywords", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var keywords []model.Keyword
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &keywords))
	assert.NotEmpty(t, keywords)
}

func TestKeyHandlers(t *testing.T) {
	env := setup(t)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/keys", `{"key":""}`).Code)
	view := env.addKey(t)
	assert.Equal(t, "0001", view.KeySuffix)
	assert.Equal(t, "Key 0001", view.Label)
	assert.Equal(t, model.StatusActive, view.Status)

	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/keys", `{"key":"AIza-personal-0001"}`).Code)

	resp := env.do(http.MethodGet, "/api/keys", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.NotContains(t, resp.Body.String(), "AIza-personal")
	assert.Contains(t, resp.Body.String(), `"active":1`)

	// keys are private to their owner
	resp = env.doAs("bo-token", http.MethodDelete, fmt.Sprintf("/api/keys/%d", view.ID), "")
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = env.do(http.MethodDelete, fmt.Sprintf("/api/keys/%d", view.ID), "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Zero(t, env.keys.ActiveCount(env.userID))
}

func TestPromptsHandler(t *testing.T) {
	env := setup(t)

	resp := env.do(http.MethodPost, "/api/prompts", `{"topic":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(http.MethodPost, "/api/prompts", `{"topic":"autumn coffee"}`)
	assert.Equal(t, http.StatusConflict, resp.Code, "no personal key yet")
	assert.Contains(t, resp.Body.String(), runner.KindNoEligibleCredential)

	key := env.addKey(t)
	resp = env.do(http.MethodPost, "/api/prompts", `{"topic":"autumn coffee","count":20,"style":"Watercolor"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Contains(t, resp.Body.String(), "A autumn coffee")
	assert.Equal(t, "AIza-personal-0001", env.prompts.key)

	env.prompts.err = fmt.Errorf("wrapped: %w", generator.ErrRateLimited)
	resp = env.do(http.MethodPost, "/api/prompts", `{"topic":"autumn coffee"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	creds := env.keys.List(model.PoolUser, env.userID)
	require.Len(t, creds, 1)
	assert.Equal(t, key.ID, creds[0].ID)
	assert.Equal(t, model.StatusRateLimited, creds[0].Status)
}

func uploadRequest(t *testing.T, files map[string][]byte) *http.Request {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req, _ := http.NewRequest(http.MethodPost, "/api/queue/files", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestQueueHandlers(t *testing.T) {
	env := setup(t)

	resp := env.request(uploadRequest(t, map[string][]byte{
		"sunset.png": pngHeader,
		"huge.jpg":   bytes.Repeat([]byte{0xff}, 2048),
	}), env.token)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var upload struct {
		Items    []runner.Item  `json:"items"`
		Rejected []rejectedFile `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &upload))
	require.Len(t, upload.Items, 1)
	assert.Equal(t, "image/png", upload.Items[0].MIMEType)
	require.Len(t, upload.Rejected, 1)
	assert.Equal(t, "huge.jpg", upload.Rejected[0].FileName)

	resp = env.do(http.MethodPost, "/api/queue/texts", `{"texts":["Golden retriever puppy playing in autumn leaves", " "]}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	texts := queueItems(t, resp)
	require.Len(t, texts, 1)
	assert.Equal(t, "golden_retriever_puppy_playing_in_autumn.jpg", texts[0].FileName)

	resp = env.do(http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, queueItems(t, resp), 2)

	// other users have their own queue
	resp = env.doAs("bo-token", http.MethodGet, "/api/queue", "")
	assert.Empty(t, queueItems(t, resp))

	resp = env.do(http.MethodPut, "/api/queue/"+texts[0].ID+"/result", `{"title":"x"}`)
	assert.Equal(t, http.StatusConflict, resp.Code, "pending items have no result to edit")

	resp = env.do(http.MethodDelete, "/api/queue/"+upload.Items[0].ID, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = env.do(http.MethodDelete, "/api/queue/"+upload.Items[0].ID, "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = env.do(http.MethodDelete, "/api/queue", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"removed":1}`, resp.Body.String())
}

func TestBatchAndExport(t *testing.T) {
	env := setup(t)

	resp := env.do(http.MethodPost, "/api/queue/texts", `{"texts":["misty pine forest at dawn","city skyline at night"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = env.do(http.MethodGet, "/api/export", "")
	assert.Equal(t, http.StatusNotFound, resp.Code, "nothing done yet")

	resp = env.do(http.MethodPost, "/api/batch/start", "")
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Zero(t, env.gen.calls, "no item is failed when no key exists")

	env.addKey(t)
	resp = env.do(http.MethodPost, "/api/batch/start", `{"platform":"Adobe Stock","sortByRelevance":false,"prefix":"AI"}`)
	require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

	require.Eventually(t, func() bool {
		resp := env.do(http.MethodGet, "/api/batch/progress", "")
		var p runner.Progress
		_ = json.Unmarshal(resp.Body.Bytes(), &p)
		return !p.Running && p.Completed == 2 && p.Done == 2
	}, 2*time.Second, 10*time.Millisecond)

	resp = env.do(http.MethodGet, "/api/export?platform=Adobe%20Stock&vector=true", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "Adobe_Stock_Metadata_Batch_")
	lines := strings.Split(strings.TrimSpace(resp.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Filename,Title,Keywords,Category", lines[0])
	assert.Equal(t, `misty_pine_forest_at_dawn.eps,AI Title for misty_pine_forest_at_dawn.jpg,"apple, zebra",Nature`, lines[1])

	resp = env.do(http.MethodGet, "/api/export?format=xlsx", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/export?format=pdf", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/export?vector=maybe", "").Code)

	resp = env.do(http.MethodGet, "/api/queue", "")
	items := queueItems(t, resp)
	require.Len(t, items, 2)

	resp = env.do(http.MethodPut, "/api/queue/"+items[0].ID+"/result",
		`{"title":"Edited","description":"d","category":"c","keywords":["one"]}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Edited")

	env.gen.err = fmt.Errorf("boom: %w", generator.ErrRateLimited)
	resp = env.do(http.MethodPost, "/api/queue/"+items[1].ID+"/regenerate", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var regenerated runner.Item
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &regenerated))
	assert.Equal(t, runner.StatusError, regenerated.Status)
	assert.Equal(t, generator.KindRateLimited, regenerated.ErrorKind)

	resp = env.do(http.MethodPost, "/api/queue/missing/regenerate", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = env.do(http.MethodPost, "/api/batch/stop", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestConcurrentBatchStartsStartOneRun(t *testing.T) {
	env := setup(t)
	env.gen.block = make(chan struct{})
	env.addKey(t)
	resp := env.do(http.MethodPost, "/api/queue/texts", `{"texts":["red fox","blue lake"]}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	codes := make(chan int, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- env.do(http.MethodPost, "/api/batch/start", "").Code
		}()
	}
	wg.Wait()
	close(codes)

	var got []int
	for code := range codes {
		got = append(got, code)
	}
	assert.ElementsMatch(t, []int{http.StatusAccepted, http.StatusConflict}, got)

	close(env.gen.block)
	require.Eventually(t, func() bool {
		var p runner.Progress
		_ = json.Unmarshal(env.do(http.MethodGet, "/api/batch/progress", "").Body.Bytes(), &p)
		return !p.Running && p.Done == 2
	}, 2*time.Second, 10*time.Millisecond)
}
