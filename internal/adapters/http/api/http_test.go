package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/erichli1/acamafia/internal/domain/delay"
	"github.com/erichli1/acamafia/internal/domain/matching"
	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/logger"
)

func init() {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
}

type decisionCall struct {
	caller, comper, group string
	accept                bool
}

// mockDeps records calls and serves canned data.
type mockDeps struct {
	mu           sync.Mutex
	compers      map[string]*model.Comper
	affiliations map[string]model.Affiliation
	feed         []model.UpdateEntry
	delayCfg     *model.DelayConfig
	decisions    []decisionCall
	feedGroup    string
	viewGroup    string
	decideErr    error
	resets       int
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		compers:      map[string]*model.Comper{},
		affiliations: map[string]model.Affiliation{},
	}
}

func (m *mockDeps) SubmitPreferences(_ context.Context, identity, name string, ranked, unranked []string) (*model.Comper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ranked) == 0 {
		return nil, matching.ErrEmptyRanking
	}
	if _, ok := m.compers[identity]; ok {
		return nil, fmt.Errorf("%w: %s", matching.ErrDuplicateSubmission, identity)
	}
	c := model.NewComper(identity, name, ranked, unranked)
	m.compers[identity] = c
	return c.Clone(), nil
}

func (m *mockDeps) GetComper(_ context.Context, identity string) (*model.Comper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.compers[identity]
	if !ok {
		return nil, matching.ErrInvalidReference
	}
	return c.Clone(), nil
}

func (m *mockDeps) RecordGroupDecision(_ context.Context, caller, comperID, group string, accept bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, decisionCall{caller, comperID, group, accept})
	return m.decideErr
}

func (m *mockDeps) ListUpdateFeed(_ context.Context, group string) ([]model.UpdateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedGroup = group
	return m.feed, nil
}

func (m *mockDeps) ListCompersForGroup(_ context.Context, group string) (model.GroupView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewGroup = group
	return model.GroupView{Group: group, Ranked: []model.RankedComper{}, Unranked: []model.DeclinedComper{}}, nil
}

func (m *mockDeps) ResolveAffiliation(_ context.Context, email string) (model.Affiliation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.affiliations[email]
	if !ok {
		return model.Affiliation{}, fmt.Errorf("%w: %s", matching.ErrNotAuthorized, email)
	}
	return a, nil
}

func (m *mockDeps) RegisterAffiliation(_ context.Context, a model.Affiliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.affiliations[a.Email] = a
	return nil
}

func (m *mockDeps) GetDelayConfig(context.Context) (model.DelayConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delayCfg == nil {
		return model.DelayConfig{}, delay.ErrNotConfigured
	}
	return *m.delayCfg, nil
}

func (m *mockDeps) SetDelayConfig(_ context.Context, cfg model.DelayConfig) error {
	if err := delay.Validate(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayCfg = &cfg
	return nil
}

func (m *mockDeps) ResetRound(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	return len(m.compers), nil
}

type mockStats struct{}

func (mockStats) GetStats(context.Context) map[string]interface{} {
	return map[string]interface{}{"compers": 2}
}

func do(h http.Handler, method, path, email string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if email != "" {
		req.Header.Set(HeaderUserEmail, email)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var resp errorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Code
}

func TestCompersRoutes(t *testing.T) {
	convey.Convey("Given an API server", t, func() {
		deps := newMockDeps()
		deps.affiliations["rep@veritones.org"] = model.Affiliation{Email: "rep@veritones.org", Group: "Veritones"}
		deps.affiliations["boss@college.edu"] = model.Affiliation{Email: "boss@college.edu", Admin: true}
		h := NewServer(deps, mockStats{}).Router()

		convey.Convey("When an anonymous caller submits preferences", func() {
			w := do(h, http.MethodPost, "/api/v1/compers", "", submitRequest{RankedGroups: []string{"Veritones"}})

			convey.Convey("Then the request is unauthenticated", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusUnauthorized)
				convey.So(errorCode(w), convey.ShouldEqual, "not_authenticated")
			})
		})

		convey.Convey("When a comper submits preferences", func() {
			req := submitRequest{PreferredName: "Ada", RankedGroups: []string{"Veritones", "Lowkeys"}, UnrankedGroups: []string{"Callbacks"}}
			w := do(h, http.MethodPost, "/api/v1/compers", "  Ada@College.edu ", req)

			convey.Convey("Then the record is created under the normalized email", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)
				var c model.Comper
				convey.So(json.Unmarshal(w.Body.Bytes(), &c), convey.ShouldBeNil)
				convey.So(c.Identity, convey.ShouldEqual, "ada@college.edu")
				convey.So(c.Statuses, convey.ShouldResemble, []model.Status{model.StatusUndecided, model.StatusUndecided})
			})

			convey.Convey("And a second submission conflicts", func() {
				w := do(h, http.MethodPost, "/api/v1/compers", "ada@college.edu", req)
				convey.So(w.Code, convey.ShouldEqual, http.StatusConflict)
				convey.So(errorCode(w), convey.ShouldEqual, "duplicate_submission")
			})

			convey.Convey("And the comper can read their own record", func() {
				w := do(h, http.MethodGet, "/api/v1/compers/me", "ada@college.edu", nil)
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "Veritones")
			})
		})

		convey.Convey("When a submission names no groups", func() {
			w := do(h, http.MethodPost, "/api/v1/compers", "ada@college.edu", submitRequest{})
			convey.So(w.Code, convey.ShouldEqual, http.StatusBadRequest)
			convey.So(errorCode(w), convey.ShouldEqual, "empty_ranking")
		})

		convey.Convey("When a body carries unknown fields", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/compers", strings.NewReader(`{"ranked":["x"]}`))
			req.Header.Set(HeaderUserEmail, "ada@college.edu")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			convey.So(w.Code, convey.ShouldEqual, http.StatusBadRequest)
			convey.So(errorCode(w), convey.ShouldEqual, "bad_request")
		})

		convey.Convey("When an unknown comper looks up their record", func() {
			w := do(h, http.MethodGet, "/api/v1/compers/me", "ghost@college.edu", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusNotFound)
		})

		convey.Convey("When a representative records a decision", func() {
			deps.compers["ada@college.edu"] = model.NewComper("ada@college.edu", "Ada", []string{"Veritones"}, nil)
			w := do(h, http.MethodPost, "/api/v1/compers/ada%40college.edu/decision", "rep@veritones.org", map[string]any{"accept": true})

			convey.Convey("Then the caller and unescaped comper id reach the service", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(deps.decisions, convey.ShouldHaveLength, 1)
				convey.So(deps.decisions[0], convey.ShouldResemble, decisionCall{"rep@veritones.org", "ada@college.edu", "", true})
			})
		})

		convey.Convey("When a decision names the comper with different casing", func() {
			deps.compers["ada@college.edu"] = model.NewComper("ada@college.edu", "Ada", []string{"Veritones"}, nil)
			w := do(h, http.MethodPost, "/api/v1/compers/Ada@College.EDU/decision", "rep@veritones.org", map[string]any{"accept": true})

			convey.Convey("Then the comper id is normalized like the caller identity", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(deps.decisions, convey.ShouldHaveLength, 1)
				convey.So(deps.decisions[0].comper, convey.ShouldEqual, "ada@college.edu")
			})
		})

		convey.Convey("When a decision omits accept", func() {
			w := do(h, http.MethodPost, "/api/v1/compers/ada@college.edu/decision", "rep@veritones.org", map[string]any{})
			convey.So(w.Code, convey.ShouldEqual, http.StatusBadRequest)
			convey.So(deps.decisions, convey.ShouldBeEmpty)
		})

		convey.Convey("When the service rejects a decision", func() {
			for _, tc := range []struct {
				err    error
				status int
				code   string
			}{
				{matching.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
				{matching.ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
				{matching.ErrInvalidReference, http.StatusNotFound, "invalid_reference"},
				{delay.ErrNotConfigured, http.StatusServiceUnavailable, "delay_not_configured"},
			} {
				deps.decideErr = fmt.Errorf("wrapped: %w", tc.err)
				w := do(h, http.MethodPost, "/api/v1/compers/ada@college.edu/decision", "rep@veritones.org", map[string]any{"accept": false})
				convey.So(w.Code, convey.ShouldEqual, tc.status)
				convey.So(errorCode(w), convey.ShouldEqual, tc.code)
			}
		})

		convey.Convey("When a representative opens the group view", func() {
			w := do(h, http.MethodGet, "/api/v1/compers", "rep@veritones.org", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(deps.viewGroup, convey.ShouldEqual, "Veritones")

			convey.Convey("And asks for another group", func() {
				w := do(h, http.MethodGet, "/api/v1/compers?group=Lowkeys", "rep@veritones.org", nil)
				convey.So(w.Code, convey.ShouldEqual, http.StatusForbidden)
			})
		})

		convey.Convey("When an admin opens another group's view", func() {
			w := do(h, http.MethodGet, "/api/v1/compers?group=Lowkeys", "boss@college.edu", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(deps.viewGroup, convey.ShouldEqual, "Lowkeys")
		})
	})
}

func TestMeAndUpdates(t *testing.T) {
	convey.Convey("Given an API server with one feed entry", t, func() {
		deps := newMockDeps()
		deps.affiliations["rep@veritones.org"] = model.Affiliation{Email: "rep@veritones.org", Group: "Veritones"}
		deps.feed = []model.UpdateEntry{{ID: "e1", Seq: 1, Name: "Ada", Email: "ada@college.edu", Group: "Veritones", RelevantGroups: []string{"Veritones"}}}
		h := NewServer(deps, mockStats{}).Router()

		convey.Convey("Then an affiliated caller sees their group", func() {
			w := do(h, http.MethodGet, "/api/v1/me", "rep@veritones.org", nil)
			var resp meResponse
			convey.So(json.Unmarshal(w.Body.Bytes(), &resp), convey.ShouldBeNil)
			convey.So(resp, convey.ShouldResemble, meResponse{Email: "rep@veritones.org", Affiliated: true, Group: "Veritones"})
		})

		convey.Convey("Then an unaffiliated caller is reported as such", func() {
			w := do(h, http.MethodGet, "/api/v1/me", "ada@college.edu", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"affiliated":false`)
		})

		convey.Convey("Then the feed passes the group filter through", func() {
			w := do(h, http.MethodGet, "/api/v1/updates?group=Veritones", "ada@college.edu", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(deps.feedGroup, convey.ShouldEqual, "Veritones")
			var resp updatesResponse
			convey.So(json.Unmarshal(w.Body.Bytes(), &resp), convey.ShouldBeNil)
			convey.So(resp.Updates, convey.ShouldHaveLength, 1)
			convey.So(resp.Updates[0].Group, convey.ShouldEqual, "Veritones")
		})

		convey.Convey("Then an empty feed encodes as an empty list", func() {
			deps.feed = nil
			w := do(h, http.MethodGet, "/api/v1/updates", "ada@college.edu", nil)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"updates":[]`)
		})
	})
}

func TestAdminRoutes(t *testing.T) {
	convey.Convey("Given an API server with an admin token", t, func() {
		deps := newMockDeps()
		deps.affiliations["boss@college.edu"] = model.Affiliation{Email: "boss@college.edu", Admin: true}
		deps.affiliations["rep@veritones.org"] = model.Affiliation{Email: "rep@veritones.org", Group: "Veritones"}
		h := NewServer(deps, mockStats{}, WithAdminToken("s3cret")).Router()

		convey.Convey("When the delay was never configured", func() {
			w := do(h, http.MethodGet, "/api/v1/admin/delay", "", nil, HeaderAdminToken, "s3cret")
			convey.So(w.Code, convey.ShouldEqual, http.StatusServiceUnavailable)
		})

		convey.Convey("When the token holder sets the delay", func() {
			w := do(h, http.MethodPut, "/api/v1/admin/delay", "", model.DelayConfig{BaselineMS: 1000, RangeMS: 500}, HeaderAdminToken, "s3cret")
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(*deps.delayCfg, convey.ShouldResemble, model.DelayConfig{BaselineMS: 1000, RangeMS: 500})

			w = do(h, http.MethodGet, "/api/v1/admin/delay", "", nil, HeaderAdminToken, "s3cret")
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"baseline_ms":1000`)
		})

		convey.Convey("When a negative delay is submitted", func() {
			w := do(h, http.MethodPut, "/api/v1/admin/delay", "boss@college.edu", model.DelayConfig{BaselineMS: -1})
			convey.So(w.Code, convey.ShouldEqual, http.StatusBadRequest)
			convey.So(errorCode(w), convey.ShouldEqual, "invalid_delay")
		})

		convey.Convey("When an admin affiliation registers a representative", func() {
			w := do(h, http.MethodPost, "/api/v1/admin/affiliations", "boss@college.edu", model.Affiliation{Email: " New@Lowkeys.org", Group: "Lowkeys"})
			convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)
			convey.So(deps.affiliations["new@lowkeys.org"].Group, convey.ShouldEqual, "Lowkeys")
		})

		convey.Convey("When an admin resets the round", func() {
			w := do(h, http.MethodPost, "/api/v1/admin/reset", "boss@college.edu", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(deps.resets, convey.ShouldEqual, 1)
		})

		convey.Convey("When a representative calls an admin route", func() {
			w := do(h, http.MethodPost, "/api/v1/admin/reset", "rep@veritones.org", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusForbidden)
			convey.So(deps.resets, convey.ShouldEqual, 0)
		})

		convey.Convey("When a wrong token is presented", func() {
			w := do(h, http.MethodPost, "/api/v1/admin/reset", "boss@college.edu", nil, HeaderAdminToken, "guess")
			convey.So(w.Code, convey.ShouldEqual, http.StatusForbidden)
		})

		convey.Convey("When an anonymous caller calls an admin route", func() {
			w := do(h, http.MethodPost, "/api/v1/admin/reset", "", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusUnauthorized)
		})
	})
}

func TestHealthAndStats(t *testing.T) {
	convey.Convey("Given an API server", t, func() {
		h := NewServer(newMockDeps(), mockStats{}).Router()

		convey.Convey("Then /healthz serves metrics", func() {
			w := do(h, http.MethodGet, "/healthz", "", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		})

		convey.Convey("Then /stats serves the provider's map", func() {
			w := do(h, http.MethodGet, "/stats", "", nil)
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
			convey.So(w.Body.String(), convey.ShouldContainSubstring, `"compers":2`)
		})
	})
}

func TestErrorWrapping(t *testing.T) {
	convey.Convey("Given wrapped API errors", t, func() {
		err := WrapKind("api.op", ErrBadRequest, fmt.Errorf("decode: %w", context.Canceled))
		convey.So(err.Error(), convey.ShouldEqual, "api.op: bad request: decode: context canceled")
		status, code := statusFor(err)
		convey.So(status, convey.ShouldEqual, http.StatusBadRequest)
		convey.So(code, convey.ShouldEqual, "bad_request")

		convey.So(Wrap("api.op", nil), convey.ShouldBeNil)
		status, _ = statusFor(Wrap("api.op", matching.ErrNotAuthenticated))
		convey.So(status, convey.ShouldEqual, http.StatusUnauthorized)
		status, _ = statusFor(NewKind("api.op", ErrForbidden))
		convey.So(status, convey.ShouldEqual, http.StatusForbidden)
		status, _ = statusFor(fmt.Errorf("boom"))
		convey.So(status, convey.ShouldEqual, http.StatusInternalServerError)
	})
}
