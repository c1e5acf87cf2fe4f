// Copyright (c) The Thanos Authors.
// Licensed under the Apache License 2.0.

// Package runutil provides helpers for closing Closers whose Close error must
// not be dropped. Close errors are either logged:
//
//	defer runutil.CloseWithLogOnErr(logger, f, "close state file")
//
// or captured into the caller's returned error:
//
//	defer runutil.CloseWithErrCapture(&err, f, "close state file")
//
// The Exhaust variants drain an io.ReadCloser before closing it, which keeps
// HTTP keep-alive connections reusable after a response body has been
// partially read.
package runutil

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/efficientgo/tools/core/pkg/merrors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	pkgerrors "github.com/pkg/errors"
)

// CloseWithLogOnErr closes the closer and logs any error it returns.
func CloseWithLogOnErr(logger log.Logger, closer io.Closer, format string, a ...interface{}) {
	err := closer.Close()
	if err == nil {
		return
	}

	// Not a problem if it has been closed already.
	if errors.Is(err, os.ErrClosed) {
		return
	}

	if logger == nil {
		logger = log.NewLogfmtLogger(os.Stderr)
	}

	level.Warn(logger).Log("msg", "detected close error", "err", pkgerrors.Wrapf(err, fmt.Sprintf(format, a...)))
}

// ExhaustCloseWithLogOnErr drains the reader, then closes it like CloseWithLogOnErr.
func ExhaustCloseWithLogOnErr(logger log.Logger, r io.ReadCloser, format string, a ...interface{}) {
	_, err := io.Copy(ioutil.Discard, r)
	if err != nil {
		level.Warn(logger).Log("msg", "failed to exhaust reader, performance may be impeded", "err", err)
	}

	CloseWithLogOnErr(logger, r, format, a...)
}

// CloseWithErrCapture closes the closer and merges any close error into *err.
func CloseWithErrCapture(err *error, closer io.Closer, format string, a ...interface{}) {
	merr := merrors.NilOrMultiError{}

	merr.Add(*err)
	merr.Add(pkgerrors.Wrapf(closer.Close(), format, a...))

	*err = merr.Err()
}

// ExhaustCloseWithErrCapture drains the reader, then closes it like CloseWithErrCapture.
func ExhaustCloseWithErrCapture(err *error, r io.ReadCloser, format string, a ...interface{}) {
	_, copyErr := io.Copy(ioutil.Discard, r)

	CloseWithErrCapture(err, r, format, a...)

	// Prepend the io.Copy error.
	merr := merrors.NilOrMultiError{}
	merr.Add(copyErr)
	merr.Add(*err)

	*err = merr.Err()
}

// ExhaustCloseRequestBodyHandler ensures the request body is exhausted and
// closed once the wrapped handler returns.
func ExhaustCloseRequestBodyHandler(logger log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := r.Body
		r.Body = ioutil.NopCloser(r.Body)
		next.ServeHTTP(w, r)
		ExhaustCloseWithLogOnErr(logger, b, "close request body")
	})
}
