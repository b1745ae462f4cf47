package config

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/datatap/datatap/internal/contract"
	"github.com/datatap/datatap/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("") // in-memory
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestDataset(t *testing.T, s *Store, name string) *model.Dataset {
	t.Helper()
	ds := &model.Dataset{
		Name: name,
		Records: []model.Record{
			{"id": float64(1), "name": "a"},
			{"id": float64(2), "name": "b"},
		},
		Schema:   map[string]string{"id": "number", "name": "string"},
		IsActive: true,
	}
	if err := s.CreateDataset(context.Background(), ds); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	return ds
}

func createTestEndpoint(t *testing.T, s *Store, datasetID int64, path string) *model.Endpoint {
	t.Helper()
	ep := &model.Endpoint{
		Name:      "ep " + path,
		Method:    "GET",
		Path:      path,
		DatasetID: datasetID,
		Response:  model.DefaultResponseConfig(),
		IsActive:  true,
	}
	if err := s.CreateEndpoint(context.Background(), ep); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}
	return ep
}

func createTestKey(t *testing.T, s *Store, raw string, scope string, endpointIDs ...int64) *model.APIKey {
	t.Helper()
	key := &model.APIKey{
		Name:        "key " + raw,
		KeyHash:     HashAPIKey(raw),
		KeyPrefix:   raw[:min(16, len(raw))],
		Scope:       scope,
		EndpointIDs: endpointIDs,
	}
	if err := s.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	return key
}

func TestDatasetCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ds := createTestDataset(t, s, "people")
	if ds.ID == 0 {
		t.Fatal("expected non-zero ID after create")
	}
	if ds.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", ds.RecordCount)
	}
	if ds.Source != model.SourceManual || ds.SchemaLock != model.SchemaLockNone {
		t.Errorf("defaults = %q/%q", ds.Source, ds.SchemaLock)
	}

	got, err := s.GetDataset(ctx, ds.ID)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if len(got.Records) != 2 || got.Records[1]["name"] != "b" {
		t.Errorf("records = %v", got.Records)
	}
	if got.Schema["id"] != "number" {
		t.Errorf("schema = %v", got.Schema)
	}

	list, err := s.ListDatasets(ctx)
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d datasets, want 1", len(list))
	}
	if len(list[0].Records) != 0 {
		t.Error("ListDatasets should not load records")
	}
	if list[0].RecordCount != 2 {
		t.Errorf("listed RecordCount = %d, want 2", list[0].RecordCount)
	}

	got.Name = "staff"
	got.SchemaLock = model.SchemaLockStrict
	if err := s.UpdateDatasetMeta(ctx, got); err != nil {
		t.Fatalf("UpdateDatasetMeta: %v", err)
	}
	meta, err := s.GetDatasetMeta(ctx, ds.ID)
	if err != nil {
		t.Fatalf("GetDatasetMeta: %v", err)
	}
	if meta.Name != "staff" || meta.SchemaLock != model.SchemaLockStrict {
		t.Errorf("meta = %q/%q", meta.Name, meta.SchemaLock)
	}

	if err := s.SetDatasetActive(ctx, ds.ID, false); err != nil {
		t.Fatalf("SetDatasetActive: %v", err)
	}
	meta, _ = s.GetDatasetMeta(ctx, ds.ID)
	if meta.IsActive {
		t.Error("dataset should be inactive")
	}

	if err := s.DeleteDataset(ctx, ds.ID); err != nil {
		t.Fatalf("DeleteDataset: %v", err)
	}
	if _, err := s.GetDataset(ctx, ds.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteDataset(ctx, ds.ID); err != ErrNotFound {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestReplaceDatasetRecordsKeepsCountAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ds := createTestDataset(t, s, "people")

	records := []model.Record{
		{"id": float64(1), "name": "a", "age": float64(30)},
		{"id": float64(2), "name": "b", "age": float64(31)},
		{"id": float64(3), "name": "c", "age": float64(32)},
	}
	schema := map[string]string{"id": "number", "name": "string", "age": "number"}
	report := contract.DiffSchemas("people", ds.Schema, schema)

	if err := s.ReplaceDatasetRecords(ctx, ds.ID, model.SourceJSONUpload, records, schema, report); err != nil {
		t.Fatalf("ReplaceDatasetRecords: %v", err)
	}

	got, err := s.GetDataset(ctx, ds.ID)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	if got.RecordCount != 3 || len(got.Records) != 3 {
		t.Errorf("RecordCount = %d, len = %d, want 3", got.RecordCount, len(got.Records))
	}
	if got.Source != model.SourceJSONUpload {
		t.Errorf("Source = %q", got.Source)
	}

	history, err := s.ListSchemaSnapshots(ctx, ds.ID)
	if err != nil {
		t.Fatalf("ListSchemaSnapshots: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(history))
	}
	if history[0].Additive != 1 || history[0].Breaking != 0 {
		t.Errorf("latest snapshot counts = %d/%d, want 1/0", history[0].Additive, history[0].Breaking)
	}
	if history[0].Schema["age"] != "number" {
		t.Errorf("latest snapshot schema = %v", history[0].Schema)
	}

	if err := s.ReplaceDatasetRecords(ctx, 9999, model.SourceManual, nil, nil, contract.DriftReport{}); err != ErrNotFound {
		t.Errorf("missing dataset: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteDatasetInUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ds := createTestDataset(t, s, "people")
	ep := createTestEndpoint(t, s, ds.ID, "/api/v1/people")

	if err := s.DeleteDataset(ctx, ds.ID); !errors.Is(err, ErrDatasetInUse) {
		t.Fatalf("expected ErrDatasetInUse, got %v", err)
	}

	if err := s.DeleteEndpoint(ctx, ep.ID); err != nil {
		t.Fatalf("DeleteEndpoint: %v", err)
	}
	if err := s.DeleteDataset(ctx, ds.ID); err != nil {
		t.Fatalf("DeleteDataset after endpoint removal: %v", err)
	}
}

func TestEndpointCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ds := createTestDataset(t, s, "people")

	ep := &model.Endpoint{
		Name:      "People",
		Method:    "GET",
		Path:      "/api/v1/people",
		DatasetID: ds.ID,
		Response: model.ResponseConfig{
			Pagination:    true,
			PageSize:      2,
			ExcludeFields: []string{"secret"},
		},
		IsActive: true,
	}
	if err := s.CreateEndpoint(ctx, ep); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	// Same route is rejected, another method on the same path is not.
	dup := *ep
	dup.ID = 0
	if err := s.CreateEndpoint(ctx, &dup); err != ErrConflict {
		t.Errorf("duplicate route: expected ErrConflict, got %v", err)
	}
	dup.Method = "POST"
	if err := s.CreateEndpoint(ctx, &dup); err != nil {
		t.Errorf("other method: %v", err)
	}

	missing := &model.Endpoint{Name: "x", Method: "GET", Path: "/api/v1/x", DatasetID: 999}
	if err := s.CreateEndpoint(ctx, missing); err != ErrNotFound {
		t.Errorf("missing dataset: expected ErrNotFound, got %v", err)
	}

	got, err := s.GetActiveEndpointByRoute(ctx, "GET", "/api/v1/people")
	if err != nil {
		t.Fatalf("GetActiveEndpointByRoute: %v", err)
	}
	if got.ID != ep.ID {
		t.Errorf("got ID %d, want %d", got.ID, ep.ID)
	}
	if got.Response.PageSize != 2 || len(got.Response.ExcludeFields) != 1 {
		t.Errorf("response config = %+v", got.Response)
	}

	if err := s.SetEndpointActive(ctx, ep.ID, false); err != nil {
		t.Fatalf("SetEndpointActive: %v", err)
	}
	if _, err := s.GetActiveEndpointByRoute(ctx, "GET", "/api/v1/people"); err != ErrNotFound {
		t.Errorf("inactive endpoint: expected ErrNotFound, got %v", err)
	}

	active, err := s.ListEndpoints(ctx, true)
	if err != nil {
		t.Fatalf("ListEndpoints: %v", err)
	}
	if len(active) != 1 || active[0].Method != "POST" {
		t.Errorf("active endpoints = %+v", active)
	}
	all, _ := s.ListEndpoints(ctx, false)
	if len(all) != 2 {
		t.Errorf("got %d endpoints, want 2", len(all))
	}

	got.Name = "Renamed"
	got.Path = "/api/v1/staff"
	if err := s.UpdateEndpoint(ctx, got); err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}
	updated, _ := s.GetEndpoint(ctx, ep.ID)
	if updated.Name != "Renamed" || updated.Path != "/api/v1/staff" {
		t.Errorf("updated = %q %q", updated.Name, updated.Path)
	}
}

func TestRecordEndpointHitIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ds := createTestDataset(t, s, "people")
	ep := createTestEndpoint(t, s, ds.ID, "/api/v1/people")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.RecordEndpointHit(ctx, ep.ID, time.Now()); err != nil {
				t.Errorf("RecordEndpointHit: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetEndpoint(ctx, ep.ID)
	if got.RequestCount != 20 {
		t.Errorf("RequestCount = %d, want 20", got.RequestCount)
	}
	if got.LastAccessed == nil {
		t.Error("LastAccessed should be set")
	}
}

func TestAPIKeyCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ds := createTestDataset(t, s, "people")
	e1 := createTestEndpoint(t, s, ds.ID, "/api/v1/one")
	e2 := createTestEndpoint(t, s, ds.ID, "/api/v1/two")

	key := createTestKey(t, s, "dtap_aaaaaaaaaaaaaaaaaaaa", model.ScopeSpecific, e1.ID, e2.ID)
	if key.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	if key.Status != model.KeyStatusActive {
		t.Errorf("Status = %q, want active", key.Status)
	}

	got, err := s.GetAPIKeyByHash(ctx, HashAPIKey("dtap_aaaaaaaaaaaaaaaaaaaa"))
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if len(got.EndpointIDs) != 2 || got.EndpointIDs[0] != e1.ID {
		t.Errorf("EndpointIDs = %v", got.EndpointIDs)
	}

	if _, err := s.GetAPIKeyByHash(ctx, HashAPIKey("nope")); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got.Name = "renamed"
	got.EndpointIDs = []int64{e2.ID}
	if err := s.UpdateAPIKey(ctx, got); err != nil {
		t.Fatalf("UpdateAPIKey: %v", err)
	}
	reloaded, _ := s.GetAPIKey(ctx, key.ID)
	if reloaded.Name != "renamed" || len(reloaded.EndpointIDs) != 1 || reloaded.EndpointIDs[0] != e2.ID {
		t.Errorf("reloaded = %q %v", reloaded.Name, reloaded.EndpointIDs)
	}

	reloaded.EndpointIDs = []int64{12345}
	if err := s.UpdateAPIKey(ctx, reloaded); err != ErrNotFound {
		t.Errorf("unknown endpoint: expected ErrNotFound, got %v", err)
	}

	if err := s.SetAPIKeyStatus(ctx, key.ID, model.KeyStatusRevoked); err != nil {
		t.Fatalf("SetAPIKeyStatus: %v", err)
	}
	revoked, _ := s.GetAPIKey(ctx, key.ID)
	if revoked.Status != model.KeyStatusRevoked {
		t.Errorf("Status = %q, want revoked", revoked.Status)
	}

	if err := s.DeleteAPIKey(ctx, key.ID); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	if _, err := s.GetAPIKey(ctx, key.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteEndpointStripsAllowLists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ds := createTestDataset(t, s, "people")
	e1 := createTestEndpoint(t, s, ds.ID, "/api/v1/one")
	e2 := createTestEndpoint(t, s, ds.ID, "/api/v1/two")

	k1 := createTestKey(t, s, "dtap_k1k1k1k1k1k1k1k1k1", model.ScopeSpecific, e1.ID, e2.ID)
	k2 := createTestKey(t, s, "dtap_k2k2k2k2k2k2k2k2k2", model.ScopeSpecific, e1.ID)

	if err := s.DeleteEndpoint(ctx, e1.ID); err != nil {
		t.Fatalf("DeleteEndpoint: %v", err)
	}

	for _, id := range []int64{k1.ID, k2.ID} {
		key, err := s.GetAPIKey(ctx, id)
		if err != nil {
			t.Fatalf("GetAPIKey: %v", err)
		}
		for _, epID := range key.EndpointIDs {
			if epID == e1.ID {
				t.Errorf("key %d still lists deleted endpoint %d", id, e1.ID)
			}
		}
	}
}

func TestRotateAPIKeySecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := createTestKey(t, s, "dtap_oldoldoldoldoldold", model.ScopeAll)

	if err := s.RecordAPIKeyUsage(ctx, key.ID, time.Now()); err != nil {
		t.Fatalf("RecordAPIKeyUsage: %v", err)
	}
	if err := s.SetAPIKeyStatus(ctx, key.ID, model.KeyStatusRevoked); err != nil {
		t.Fatalf("SetAPIKeyStatus: %v", err)
	}

	newRaw := "dtap_newnewnewnewnewnew"
	if err := s.RotateAPIKeySecret(ctx, key.ID, HashAPIKey(newRaw), newRaw[:16], ""); err != nil {
		t.Fatalf("RotateAPIKeySecret: %v", err)
	}

	if _, err := s.GetAPIKeyByHash(ctx, HashAPIKey("dtap_oldoldoldoldoldold")); err != ErrNotFound {
		t.Errorf("old secret: expected ErrNotFound, got %v", err)
	}
	got, err := s.GetAPIKeyByHash(ctx, HashAPIKey(newRaw))
	if err != nil {
		t.Fatalf("new secret lookup: %v", err)
	}
	if got.UsageCount != 0 {
		t.Errorf("UsageCount = %d, want 0", got.UsageCount)
	}
	if got.Status != model.KeyStatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if got.KeyPrefix != newRaw[:16] {
		t.Errorf("KeyPrefix = %q", got.KeyPrefix)
	}
}

func TestListAPIKeysVisibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := &model.User{Name: "Alice", Email: "alice@example.com", IsActive: true}
	bob := &model.User{Name: "Bob", Email: "bob@example.com", IsActive: true}
	for _, u := range []*model.User{alice, bob} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	for i, owner := range []*int64{&alice.ID, &bob.ID, nil} {
		key := &model.APIKey{
			Name:      "k",
			KeyHash:   HashAPIKey(string(rune('a' + i))),
			KeyPrefix: "dtap_",
			UserID:    owner,
		}
		if err := s.CreateAPIKey(ctx, key); err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
	}

	all, err := s.ListAPIKeys(ctx, nil)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("admin sees %d keys, want 3", len(all))
	}

	visible, err := s.ListAPIKeys(ctx, &alice.ID)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("alice sees %d keys, want 2", len(visible))
	}
	for _, k := range visible {
		if k.UserID != nil && *k.UserID != alice.ID {
			t.Errorf("alice can see key owned by %d", *k.UserID)
		}
	}
}

func TestExpireAPIKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	for i, exp := range []*time.Time{&past, &future, nil} {
		key := &model.APIKey{
			Name:      "k",
			KeyHash:   HashAPIKey(string(rune('a' + i))),
			KeyPrefix: "dtap_",
			ExpiresAt: exp,
		}
		if err := s.CreateAPIKey(ctx, key); err != nil {
			t.Fatalf("CreateAPIKey: %v", err)
		}
	}

	n, err := s.ExpireAPIKeys(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireAPIKeys: %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d keys, want 1", n)
	}

	// Already expired keys are not counted twice.
	n, _ = s.ExpireAPIKeys(ctx, time.Now())
	if n != 0 {
		t.Errorf("second sweep expired %d keys, want 0", n)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &model.User{
		Name:         "Admin User",
		Email:        "  Admin@Example.COM ",
		PasswordHash: "$2a$10$fakehashvalue",
		IsActive:     true,
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Email != "admin@example.com" {
		t.Errorf("Email = %q, want normalized", u.Email)
	}
	if u.Role != model.RoleUser || u.Provider != model.ProviderLocal {
		t.Errorf("defaults = %q/%q", u.Role, u.Provider)
	}

	dup := &model.User{Name: "Dup", Email: "ADMIN@example.com"}
	if err := s.CreateUser(ctx, dup); err != ErrConflict {
		t.Errorf("duplicate email: expected ErrConflict, got %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "ADMIN@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("got ID %d, want %d", got.ID, u.ID)
	}

	if err := s.UpdateUserLastLogin(ctx, u.ID); err != nil {
		t.Fatalf("UpdateUserLastLogin: %v", err)
	}
	if err := s.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	got, _ = s.GetUser(ctx, u.ID)
	if got.IsActive || got.LastLoginAt == nil {
		t.Errorf("IsActive = %v, LastLoginAt = %v", got.IsActive, got.LastLoginAt)
	}

	if err := s.UpdateUserRole(ctx, 999, model.RoleAdmin); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	ext := &model.User{Name: "Ext", Email: "ext@example.com", Provider: model.ProviderOIDC, ExternalSubject: "sub-1"}
	if err := s.CreateUser(ctx, ext); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	bySub, err := s.GetUserBySubject(ctx, model.ProviderOIDC, "sub-1")
	if err != nil {
		t.Fatalf("GetUserBySubject: %v", err)
	}
	if bySub.ID != ext.ID {
		t.Errorf("got ID %d, want %d", bySub.ID, ext.ID)
	}

	users, _ := s.ListUsers(ctx)
	if len(users) != 2 {
		t.Errorf("got %d users, want 2", len(users))
	}
}

func TestPromoteFirstAdminSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com"} {
		u := &model.User{Name: email, Email: email, IsActive: true}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		ids = append(ids, u.ID)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		losers  int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			err := s.PromoteFirstAdmin(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrAdminExists):
				losers++
			default:
				t.Errorf("PromoteFirstAdmin: %v", err)
			}
		}(id)
	}
	wg.Wait()

	if winners != 1 || losers != len(ids)-1 {
		t.Errorf("winners = %d, losers = %d", winners, losers)
	}
	has, err := s.HasAnyAdmin(ctx)
	if err != nil || !has {
		t.Errorf("HasAnyAdmin = %v, %v", has, err)
	}
}

func TestPromoteFirstAdminMissingUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PromoteFirstAdmin(ctx, 42); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// The failed attempt must not consume the one-time claim.
	if _, err := s.GetSetting(ctx, firstAdminKey); err != ErrNotFound {
		t.Errorf("first_admin setting should not exist, got %v", err)
	}
}

func TestSourceCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := &model.Source{
		Name:     "warehouse",
		Driver:   "postgres",
		DSN:      "postgres://localhost/test",
		IsActive: true,
	}
	if err := s.CreateSource(ctx, src); err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	if src.Pool != model.DefaultPoolConfig() {
		t.Errorf("Pool = %+v, want defaults", src.Pool)
	}

	got, err := s.GetSourceByName(ctx, "warehouse")
	if err != nil {
		t.Fatalf("GetSourceByName: %v", err)
	}
	if got.Pool.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v", got.Pool.ConnMaxLifetime)
	}

	if err := s.CreateSource(ctx, &model.Source{Name: "warehouse", Driver: "mysql", DSN: "x"}); err != ErrConflict {
		t.Errorf("duplicate name: expected ErrConflict, got %v", err)
	}

	got.Driver = "mysql"
	if err := s.UpdateSource(ctx, got); err != nil {
		t.Fatalf("UpdateSource: %v", err)
	}
	list, _ := s.ListSources(ctx)
	if len(list) != 1 || list[0].Driver != "mysql" {
		t.Errorf("sources = %+v", list)
	}

	if err := s.DeleteSource(ctx, src.ID); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if _, err := s.GetSource(ctx, src.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRequestLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keyID := int64(7)
	epID := int64(3)
	base := time.Now().UTC().Add(-time.Hour)
	entries := []model.RequestLog{
		{APIKeyID: &keyID, EndpointID: &epID, Method: "GET", Path: "/api/v1/people", StatusCode: 200, LatencyMs: 4,
			Query: url.Values{"name": {"a"}}, CreatedAt: base},
		{APIKeyID: &keyID, Method: "GET", Path: "/api/v1/missing", StatusCode: 404, Error: "Endpoint not found",
			CreatedAt: base.Add(time.Minute)},
		{Method: "GET", Path: "/api/v1/people", StatusCode: 401, Error: "API key is required",
			CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := s.InsertRequestLog(ctx, &entries[i]); err != nil {
			t.Fatalf("InsertRequestLog: %v", err)
		}
	}

	all, err := s.ListRequestLogs(ctx, model.RequestLogFilter{})
	if err != nil {
		t.Fatalf("ListRequestLogs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d logs, want 3", len(all))
	}
	if all[0].StatusCode != 401 {
		t.Errorf("newest first: got status %d", all[0].StatusCode)
	}
	if all[2].Query.Get("name") != "a" {
		t.Errorf("query = %v", all[2].Query)
	}

	byKey, _ := s.ListRequestLogs(ctx, model.RequestLogFilter{APIKeyID: keyID})
	if len(byKey) != 2 {
		t.Errorf("by key: got %d, want 2", len(byKey))
	}

	n, err := s.CountRequestLogs(ctx, model.RequestLogFilter{StatusCode: 404})
	if err != nil || n != 1 {
		t.Errorf("CountRequestLogs(404) = %d, %v", n, err)
	}

	since := base.Add(30 * time.Second)
	recent, _ := s.ListRequestLogs(ctx, model.RequestLogFilter{Since: &since, Limit: 1})
	if len(recent) != 1 || recent[0].StatusCode != 401 {
		t.Errorf("since+limit = %+v", recent)
	}

	page2, _ := s.ListRequestLogs(ctx, model.RequestLogFilter{Limit: 2, Offset: 2})
	if len(page2) != 1 || page2[0].StatusCode != 200 {
		t.Errorf("offset page = %+v", page2)
	}

	cleared, err := s.ClearRequestLogs(ctx)
	if err != nil || cleared != 3 {
		t.Errorf("ClearRequestLogs = %d, %v", cleared, err)
	}
	if n, _ := s.CountRequestLogs(ctx, model.RequestLogFilter{}); n != 0 {
		t.Errorf("after clear: %d logs", n)
	}
}

func TestDashboardStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ds := createTestDataset(t, s, "people")
	ep := createTestEndpoint(t, s, ds.ID, "/api/v1/people")
	createTestKey(t, s, "dtap_dashdashdashdash", model.ScopeAll)
	if err := s.RecordEndpointHit(ctx, ep.ID, time.Now()); err != nil {
		t.Fatalf("RecordEndpointHit: %v", err)
	}

	for _, status := range []int{200, 200, 403} {
		l := &model.RequestLog{Method: "GET", Path: ep.Path, StatusCode: status, LatencyMs: 10}
		if err := s.InsertRequestLog(ctx, l); err != nil {
			t.Fatalf("InsertRequestLog: %v", err)
		}
	}

	stats, err := s.DashboardStats(ctx, time.Now())
	if err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	if stats.Datasets != 1 || stats.Endpoints != 1 || stats.ActiveAPIKeys != 1 {
		t.Errorf("counts = %+v", stats)
	}
	if stats.Requests24h != 3 || stats.Errors24h != 1 {
		t.Errorf("24h = %d requests, %d errors", stats.Requests24h, stats.Errors24h)
	}
	if stats.AvgLatencyMs != 10 {
		t.Errorf("AvgLatencyMs = %v, want 10", stats.AvgLatencyMs)
	}
	if len(stats.TopEndpoints) != 1 || stats.TopEndpoints[0].RequestCount != 1 {
		t.Errorf("TopEndpoints = %+v", stats.TopEndpoints)
	}
	if len(stats.Daily) != dashboardDays {
		t.Fatalf("got %d daily buckets, want %d", len(stats.Daily), dashboardDays)
	}
	if last := stats.Daily[dashboardDays-1]; last.Requests != 3 {
		t.Errorf("today = %+v", last)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetSetting(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	if v, _ := s.GetSetting(ctx, "k"); v != "v2" {
		t.Errorf("GetSetting = %q, want v2", v)
	}
}

func TestHashAPIKey(t *testing.T) {
	h1 := HashAPIKey("dtap_abc123")
	h2 := HashAPIKey("dtap_abc123")
	h3 := HashAPIKey("dtap_xyz789")

	if h1 != h2 {
		t.Error("same input should produce same hash")
	}
	if h1 == h3 {
		t.Error("different inputs should produce different hashes")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(h1))
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestYAMLConfigRoundTrip(t *testing.T) {
	path := t.TempDir() + "/datatap.yaml"
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}

	cfg, err := LoadYAMLConfig(path)
	if err != nil {
		t.Fatalf("LoadYAMLConfig: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Gateway.Prefix != "/api/v1" {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Storage.Backend != "none" || cfg.Jobs.KeyExpiryInterval != "1h" {
		t.Errorf("storage/jobs = %+v %+v", cfg.Storage, cfg.Jobs)
	}
}
