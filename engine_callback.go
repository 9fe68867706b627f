package threemaGW

import (
	"context"
	"errors"
	"html"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/threemaGW/internal/flows"
)

const maxCallbackBody = 1 << 20

// HandleCallback validates and processes one gateway callback. The
// response body holds only public log entries; detailed entries are
// written to the logger at Debug.
func (e *Engine) HandleCallback(ctx context.Context, req CallbackRequest) CallbackResponse {
	if e == nil || !e.flow.Initialized() {
		return CallbackResponse{Status: http.StatusInternalServerError, Body: "Gateway not ready.", Retryable: true}
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricCallbackLatency, time.Since(start)) }()
	e.metricInc(MetricCallbackRequest)

	freq := flows.CallbackRequest{
		Method:      req.Method,
		RemoteAddr:  req.RemoteAddr,
		AccessToken: req.AccessToken,
		From:        req.From,
		To:          req.To,
		MessageID:   req.MessageID,
		Date:        req.Date,
		Nonce:       req.Nonce,
		Box:         req.Box,
		MAC:         req.MAC,
		Nickname:    req.Nickname,
	}
	fields := logrus.Fields{
		"function":   "Engine.HandleCallback",
		"from":       req.From,
		"message_id": req.MessageID,
		"remote":     req.RemoteAddr,
	}

	verdict := e.flow.ValidateCallback(ctx, freq)
	if !verdict.OK() {
		e.logger.WithFields(fields).WithFields(logrus.Fields{
			"stage":     verdict.Stage.String(),
			"retryable": verdict.Retryable,
			"reason":    verdict.Reason,
		}).Warn("Callback rejected")
		e.emitCallbackRejected(ctx, req, verdict)
		return CallbackResponse{
			Status:    verdict.Status(),
			Body:      verdict.Reason,
			Retryable: verdict.Retryable,
		}
	}

	res := e.flow.Receive(ctx, freq)
	resp := CallbackResponse{
		Status:    http.StatusOK,
		Body:      res.Log.PublicString(),
		Retryable: res.Retryable,
		Saved:     res.Saved,
		Log:       res.Log,
	}
	if res.Retryable {
		resp.Status = http.StatusInternalServerError
	}

	entry := e.logger.WithFields(fields)
	switch {
	case res.Err == nil:
		entry.WithField("saved", res.Saved).Info("Message processed")
	case errors.Is(res.Err, ErrReplayDetected):
		entry.WithField("security", "replay").Warn("Message replay rejected")
		e.emitReplay(ctx, req)
	default:
		entry.WithFields(logrus.Fields{
			"error":     res.Err.Error(),
			"retryable": res.Retryable,
		}).Error("Message processing failed")
		e.emitProcessingFailed(ctx, req, res.Err)
	}
	if res.Log.HasDetail() {
		entry.WithField("log", res.Log.DetailedString()).Debug("Detailed processing log")
	}
	return resp
}

// CallbackHandler serves the webhook. POST reads the form body, GET (debug
// only) the query string. The body is html-escaped plain text. A client
// address set with WithClientIP takes precedence over the peer address.
func (e *Engine) CallbackHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxCallbackBody)
		var values url.Values
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				writePlain(w, http.StatusOK, "Invalid request body.")
				return
			}
			values = r.PostForm
		} else {
			values = r.URL.Query()
		}

		addr := clientIPFromContext(r.Context())
		if addr == "" {
			addr = remoteHost(r.RemoteAddr)
		}
		resp := e.HandleCallback(r.Context(), CallbackRequest{
			Method:      r.Method,
			RemoteAddr:  addr,
			AccessToken: values.Get("accesstoken"),
			From:        values.Get("from"),
			To:          values.Get("to"),
			MessageID:   values.Get("messageId"),
			Date:        values.Get("date"),
			Nonce:       values.Get("nonce"),
			Box:         values.Get("box"),
			MAC:         values.Get("mac"),
			Nickname:    values.Get("nickname"),
		})
		writePlain(w, resp.Status, resp.Body)
	})
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(html.EscapeString(body)))
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
