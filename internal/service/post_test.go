package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/puppals/mediastore/internal/model"
	"github.com/puppals/mediastore/internal/service"
	"github.com/puppals/mediastore/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostService_Create(t *testing.T) {
	ctx := context.Background()
	e := defaultEnv(t)

	p, err := e.postSvc.Create(ctx, "U1", "  first walk  ")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "first walk", p.Content)
	assert.Equal(t, model.FileIDs{}, p.Files)

	_, err = e.postSvc.Create(ctx, "", "text")
	assert.ErrorIs(t, err, validation.ErrMissingField)
	_, err = e.postSvc.Create(ctx, "U1", "   ")
	assert.ErrorIs(t, err, validation.ErrMissingField)
	_, err = e.postSvc.Create(ctx, "U1", strings.Repeat("x", 10_001))
	assert.ErrorIs(t, err, validation.ErrSizeExceeded)
}

func TestPostService_ByIDPopulatesFilesInListOrder(t *testing.T) {
	ctx := context.Background()
	e := defaultEnv(t)
	p := e.post(t, "U1")

	a, err := e.svc.Upload(ctx, upload("U1", p.ID, "image/png", strings.NewReader("a")))
	require.NoError(t, err)
	b, err := e.svc.Upload(ctx, upload("U1", p.ID, "video/mp4", strings.NewReader("b")))
	require.NoError(t, err)

	d, err := e.postSvc.ByID(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, d.Files, 2)
	assert.Equal(t, a.ID, d.Files[0].ID)
	assert.Equal(t, b.ID, d.Files[1].ID)
	assert.Equal(t, "U1", d.AuthorID)

	_, err = e.postSvc.ByID(ctx, "missing")
	assert.ErrorIs(t, err, service.ErrPostNotFound)

	all, err := e.postSvc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Files, 2)
}
