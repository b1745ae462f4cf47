package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createUser(t *testing.T, store *config.Store, email, role string) *model.User {
	t.Helper()
	u := &model.User{Name: email, Email: email, Role: role, IsActive: true}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func createDataset(t *testing.T, store *config.Store, name string, records ...model.Record) *model.Dataset {
	t.Helper()
	ds := &model.Dataset{Name: name, Records: records, Schema: map[string]string{}, IsActive: true}
	require.NoError(t, store.CreateDataset(context.Background(), ds))
	return ds
}

func createEndpoint(t *testing.T, store *config.Store, datasetID int64, path string) *model.Endpoint {
	t.Helper()
	ep := &model.Endpoint{
		Name:      path,
		Method:    "GET",
		Path:      path,
		DatasetID: datasetID,
		Response:  model.DefaultResponseConfig(),
		IsActive:  true,
	}
	require.NoError(t, store.CreateEndpoint(context.Background(), ep))
	return ep
}
