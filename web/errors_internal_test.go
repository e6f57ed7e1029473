// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"storj.io/studyvault/catalog"
	"storj.io/studyvault/packager"
)

func TestErrorResponseStatus(t *testing.T) {
	server := &Server{log: zaptest.NewLogger(t)}

	for _, tt := range []struct {
		err    error
		status int
	}{
		{err: badRequest("bad"), status: http.StatusBadRequest},
		{err: packager.ErrInvalidKey.New("x"), status: http.StatusBadRequest},
		{err: packager.ErrNoMembers.New("x"), status: http.StatusNotFound},
		{err: catalog.ErrNotFound.New("x"), status: http.StatusNotFound},
		{err: packager.ErrClosed.New("x"), status: http.StatusServiceUnavailable},
		{err: packager.Error.Wrap(context.Canceled), status: http.StatusServiceUnavailable},
		{err: errs.New("boom"), status: http.StatusInternalServerError},
	} {
		rec := httptest.NewRecorder()
		server.errorResponse(rec, tt.err)
		require.Equal(t, tt.status, rec.Code, "%v", tt.err)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}
