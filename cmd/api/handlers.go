package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/you/fanout/internal/domain"
	"github.com/you/fanout/internal/producer"
	"github.com/you/fanout/internal/queue"
	"github.com/you/fanout/internal/storage"
)

type api struct {
	store *storage.Store
	queue *queue.RedisQ
	prod  *producer.Producer
	log   *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // manual analytics refresh, per post
}

func newAPI(store *storage.Store, q *queue.RedisQ, prod *producer.Producer, log *zap.Logger) *api {
	return &api{store: store, queue: q, prod: prod, log: log, limiters: make(map[string]*rate.Limiter)}
}

type createPostRequest struct {
	UserID      string                     `json:"user_id"`
	Body        string                     `json:"body"`
	MediaRefs   []string                   `json:"media_refs"`
	Overrides   map[domain.Platform]string `json:"overrides"`
	Platforms   []domain.Platform          `json:"platforms"`
	ScheduledAt *time.Time                 `json:"scheduled_at"`
	Timezone    string                     `json:"timezone"`
}

func (a *api) createPost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || len(req.Platforms) == 0 {
		writeError(w, http.StatusBadRequest, "user_id and platforms are required")
		return
	}
	for _, p := range req.Platforms {
		if !domain.ValidPlatform(p) {
			writeError(w, http.StatusBadRequest, "unknown platform "+string(p))
			return
		}
	}
	id, err := a.store.CreatePost(r.Context(), storage.CreatePostParams{
		UserID:      req.UserID,
		Body:        req.Body,
		MediaRefs:   req.MediaRefs,
		Overrides:   req.Overrides,
		Platforms:   req.Platforms,
		ScheduledAt: req.ScheduledAt,
		Timezone:    req.Timezone,
	})
	if err != nil {
		a.log.Error("create post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	post, err := a.store.GetPost(r.Context(), id)
	if err != nil || post == nil {
		a.log.Error("reload post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	correlationID, err := a.prod.Dispatch(r.Context(), post, post.Platforms)
	if err != nil {
		a.log.Error("dispatch", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":             id,
		"status":         post.Status,
		"correlation_id": correlationID,
	})
}

func (a *api) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := a.store.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.log.Error("get post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (a *api) cancelPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := a.store.CancelPost(r.Context(), id)
	if err != nil {
		a.log.Error("cancel post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "post is not pending or scheduled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": domain.PostCancelled})
}

// retryPost flips failed outcomes back to pending and re-enqueues only
// those platforms.
func (a *api) retryPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	platforms, err := a.store.ResetFailedOutcomes(r.Context(), id)
	if err != nil {
		a.log.Error("reset outcomes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	if len(platforms) == 0 {
		writeError(w, http.StatusConflict, "no failed outcomes to retry")
		return
	}
	if err := a.store.SetPostStatus(r.Context(), id, domain.PostPending); err != nil {
		a.log.Error("reset status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	post, err := a.store.GetPost(r.Context(), id)
	if err != nil || post == nil {
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	correlationID, err := a.prod.Dispatch(r.Context(), post, platforms)
	if err != nil {
		a.log.Error("dispatch retry", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "retry failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":             id,
		"platforms":      platforms,
		"correlation_id": correlationID,
	})
}

// refreshAnalytics is the manual analogue of the post-metrics sweep for one
// post, rate limited per post so a refresh button cannot hammer platforms.
func (a *api) refreshAnalytics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !a.limiter(id).Allow() {
		writeError(w, http.StatusTooManyRequests, "refresh already requested recently")
		return
	}
	post, err := a.store.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if post == nil {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	enqueued := 0
	for _, o := range post.Outcomes {
		if o.Status != domain.OutcomeCompleted {
			continue
		}
		job := domain.AnalyticsJob{
			Kind:          domain.FetchPostMetrics,
			PostID:        post.ID,
			UserID:        post.UserID,
			Platform:      o.Platform,
			ExternalID:    o.ExternalID,
			CorrelationID: id,
		}
		if err := a.queue.EnqueueAnalytics(r.Context(), job); err != nil {
			a.log.Error("enqueue refresh", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "refresh failed")
			return
		}
		enqueued++
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "enqueued": enqueued})
}

func (a *api) listSnapshots(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	from, to := timeRange(r)
	snapshots, err := a.store.ListSnapshots(r.Context(), id, from, to)
	if err != nil {
		a.log.Error("list snapshots", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"post_id": id, "snapshots": snapshots})
}

// queueStats is an operator view of the per-platform work queue depths.
func (a *api) queueStats(w http.ResponseWriter, r *http.Request) {
	depths := make(map[domain.Platform]int64, len(domain.Platforms))
	for _, p := range domain.Platforms {
		n, err := a.queue.QueueDepth(r.Context(), p)
		if err != nil {
			a.log.Error("queue depth", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "stats failed")
			return
		}
		depths[p] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": depths})
}

func (a *api) limiter(postID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[postID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute), 1)
		a.limiters[postID] = l
	}
	return l
}

func timeRange(r *http.Request) (time.Time, time.Time) {
	from := time.Now().AddDate(0, -1, 0)
	to := time.Now()
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			from = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			to = t
		}
	}
	return from, to
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
