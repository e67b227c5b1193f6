package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afroash/lora-digest/internal/chunker"
	"github.com/afroash/lora-digest/internal/corpus"
	"github.com/afroash/lora-digest/internal/ingest"
	"github.com/afroash/lora-digest/internal/models"
	"github.com/afroash/lora-digest/internal/storage"
)

const (
	defaultUploadName  = "upload.csv"
	defaultMaxUpload   = 10 << 20
	defaultChunkLimit  = 100
	defaultStatsDays   = 7
	maxStatsDays       = 365
	maxHoursPerRequest = 24 * 31
)

// APIOptions wires the optional collaborators of the API
type APIOptions struct {
	// Policy names the chunking policy for uploads (gap-window or hour-bucket)
	Policy string
	// HoursPerChunk is the window used when a request has no hours parameter
	HoursPerChunk int
	MaxGap        time.Duration
	// MaxUploadBytes caps the request body
	MaxUploadBytes int64

	History   HistoricalStore
	Persister Persister
	Publisher Publisher
	Feed      Broadcaster
}

// APIHandler handles HTTP API requests
type APIHandler struct {
	pipeline *corpus.Pipeline
	index    DocumentIndex
	opts     APIOptions
	logger   zerolog.Logger
	now      func() time.Time
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(pipeline *corpus.Pipeline, index DocumentIndex, opts APIOptions, logger zerolog.Logger) *APIHandler {
	if opts.Policy == "" {
		opts.Policy = chunker.PolicyGapWindow
	}
	if opts.HoursPerChunk <= 0 {
		opts.HoursPerChunk = int(chunker.InteractiveWindow / time.Hour)
	}
	if opts.MaxGap <= 0 {
		opts.MaxGap = chunker.DefaultMaxGap
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	return &APIHandler{
		pipeline: pipeline,
		index:    index,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// IngestResponse is returned by the ingest endpoint
type IngestResponse struct {
	RunID     string                 `json:"run_id"`
	Source    string                 `json:"source"`
	Policy    string                 `json:"policy"`
	Chunks    int                    `json:"chunks"`
	Documents []models.ChunkDocument `json:"documents"`
	Report    *ingest.Report         `json:"report,omitempty"`
	Persisted bool                   `json:"persisted"`
	Published int                    `json:"published"`
}

// SummaryResponse is returned by the summary endpoint
type SummaryResponse struct {
	Summary models.DatasetSummary `json:"summary"`
	Text    string                `json:"text"`
}

// StorageStatsResponse is returned by the storage stats endpoint
type StorageStatsResponse struct {
	Index   IndexStats            `json:"index"`
	Storage *storage.StorageStats `json:"storage,omitempty"`
}

// HandleIngest runs the interactive pipeline on an uploaded CSV body
func (api *APIHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()

	date := q.Get("date")
	if date != "" {
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}

	hours := api.opts.HoursPerChunk
	if hoursStr := q.Get("hours"); hoursStr != "" {
		parsed, err := strconv.Atoi(hoursStr)
		if err != nil || parsed <= 0 || parsed > maxHoursPerRequest {
			http.Error(w, "Invalid hours", http.StatusBadRequest)
			return
		}
		hours = parsed
	}

	policyName := api.opts.Policy
	if v := q.Get("policy"); v != "" {
		policyName = v
	}
	policy, err := chunker.NewPolicy(policyName, hours, api.opts.MaxGap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, api.opts.MaxUploadBytes)
	name, body, err := api.uploadBody(r)
	if err != nil {
		api.writeBodyError(w, err)
		return
	}
	defer body.Close()
	if override := q.Get("name"); override != "" {
		name = override
	}

	runID := uuid.NewString()
	log := api.logger.With().Str("run_id", runID).Str("source", name).Logger()

	result, err := api.pipeline.WithPolicy(policy).ProcessReader(name, body, date)
	if err != nil && !ingest.IsEmpty(err) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		log.Error().Err(err).Msg("Ingest failed")
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	resp := IngestResponse{
		RunID:     runID,
		Source:    name,
		Policy:    policy.Name(),
		Documents: []models.ChunkDocument{},
		Report:    result.Report,
	}

	if err != nil {
		log.Warn().Err(err).Msg("Upload produced no chunks")
		api.writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Chunks = len(result.Chunks)
	resp.Documents = result.Documents

	api.index.Replace(name, result.Documents)

	if api.opts.Persister != nil {
		resp.Persisted = api.opts.Persister.Write(storage.SourceBatch{Source: name, Documents: result.Documents})
	}
	if api.opts.Publisher != nil {
		ids, err := api.opts.Publisher.Publish(r.Context(), result.Documents)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to publish chunks")
		}
		resp.Published = len(ids)
	}
	api.broadcast(runID, result)

	log.Info().
		Int("chunks", resp.Chunks).
		Int("rows_read", result.Report.RowsRead).
		Int("rows_dropped", result.Report.RowsDropped).
		Msg("Upload ingested")

	api.writeJSON(w, http.StatusOK, resp)
}

// uploadBody returns the CSV content from a multipart "file" field or the raw body
func (api *APIHandler) uploadBody(r *http.Request) (string, io.ReadCloser, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return defaultUploadName, r.Body, nil
	}

	if err := r.ParseMultipartForm(api.opts.MaxUploadBytes); err != nil {
		return "", nil, err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, err
	}
	name := header.Filename
	if name == "" {
		name = defaultUploadName
	}
	return name, file, nil
}

func (api *APIHandler) writeBodyError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, http.ErrMissingFile):
		http.Error(w, "Missing file field", http.StatusBadRequest)
	default:
		http.Error(w, "Invalid upload", http.StatusBadRequest)
	}
}

// broadcast pushes the run, its chunks and the refreshed summary to the feed
func (api *APIHandler) broadcast(runID string, result *corpus.FileResult) {
	feed := api.opts.Feed
	if feed == nil || feed.Subscribers() == 0 {
		return
	}

	if msg, err := models.NewMessage(models.MessageTypeRun, models.RunMessage{
		RunID:     runID,
		Source:    result.Source,
		Chunks:    len(result.Chunks),
		RowsRead:  result.Report.RowsRead,
		Processed: 1,
	}); err == nil {
		feed.Broadcast(msg)
	}

	for _, doc := range result.Documents {
		msg, err := models.NewMessage(models.MessageTypeChunk, doc)
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to create chunk message")
			continue
		}
		feed.Broadcast(msg)
	}

	summary := corpus.Summarize(api.index.All())
	msg, err := models.NewMessage(models.MessageTypeSummary, models.SummaryMessage{
		Summary: summary,
		Text:    corpus.RenderSummary(summary),
	})
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to create summary message")
		return
	}
	feed.Broadcast(msg)
}

// HandleChunks returns indexed documents filtered by source and date.
// Persistent storage answers when the index has nothing for the filter.
func (api *APIHandler) HandleChunks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := Query{
		Source: q.Get("source"),
		Date:   q.Get("date"),
		Limit:  defaultChunkLimit,
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			query.Limit = parsed
		}
	}

	docs := api.index.Query(query)
	if len(docs) == 0 && api.opts.History != nil && (query.Source != "" || query.Date != "") {
		stored, err := api.historyDocuments(query)
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to query stored chunks")
			http.Error(w, "Failed to query stored chunks", http.StatusInternalServerError)
			return
		}
		docs = stored
	}

	api.writeJSON(w, http.StatusOK, docs)
}

func (api *APIHandler) historyDocuments(query Query) ([]models.ChunkDocument, error) {
	var docs []models.ChunkDocument
	var err error
	if query.Source != "" {
		docs, err = api.opts.History.GetDocumentsBySource(query.Source)
	} else {
		docs, err = api.opts.History.GetDocumentsByDate(query.Date, query.Limit)
	}
	if err != nil {
		return nil, err
	}

	result := make([]models.ChunkDocument, 0, len(docs))
	for i := range docs {
		if query.matches(&docs[i]) {
			result = append(result, docs[i])
		}
	}
	if len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

// HandleSources returns every known source
func (api *APIHandler) HandleSources(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	sources := make([]string, 0)
	add := func(list []string) {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				sources = append(sources, s)
			}
		}
	}

	add(api.index.Sources())
	if api.opts.History != nil {
		stored, err := api.opts.History.GetSources()
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to query stored sources")
		} else {
			add(stored)
		}
	}
	sort.Strings(sources)

	api.writeJSON(w, http.StatusOK, sources)
}

// HandleSummary returns the dataset summary of the indexed documents
func (api *APIHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary := corpus.Summarize(api.index.All())
	api.writeJSON(w, http.StatusOK, SummaryResponse{
		Summary: summary,
		Text:    corpus.RenderSummary(summary),
	})
}

// HandleDailyStats returns per-date aggregates from persistent storage
func (api *APIHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	if api.opts.History == nil {
		http.Error(w, "Persistent storage disabled", http.StatusServiceUnavailable)
		return
	}

	days := defaultStatsDays
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if parsed, err := strconv.Atoi(daysStr); err == nil && parsed > 0 {
			days = parsed
		}
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}

	end := api.now().UTC()
	start := end.AddDate(0, 0, -(days - 1))

	stats, err := api.opts.History.GetDailyStats(start, end)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to get daily stats")
		http.Error(w, "Failed to get daily stats", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []storage.DailyStat{}
	}

	api.writeJSON(w, http.StatusOK, stats)
}

// HandleStorageStats returns index and database statistics
func (api *APIHandler) HandleStorageStats(w http.ResponseWriter, r *http.Request) {
	resp := StorageStatsResponse{Index: api.index.Stats()}
	if api.opts.History != nil {
		stats, err := api.opts.History.GetStorageStats()
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to get storage stats")
			http.Error(w, "Failed to get storage stats", http.StatusInternalServerError)
			return
		}
		resp.Storage = stats
	}
	api.writeJSON(w, http.StatusOK, resp)
}

// HandleHealth reports liveness
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	subscribers := 0
	if api.opts.Feed != nil {
		subscribers = api.opts.Feed.Subscribers()
	}
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"documents":   api.index.Stats().Documents,
		"subscribers": subscribers,
		"persistence": api.opts.History != nil,
	})
}

// Routes registers the API endpoints on mux
func (api *APIHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/ingest", api.HandleIngest)
	mux.HandleFunc("/api/chunks", api.HandleChunks)
	mux.HandleFunc("/api/sources", api.HandleSources)
	mux.HandleFunc("/api/summary", api.HandleSummary)
	mux.HandleFunc("/api/daily/stats", api.HandleDailyStats)
	mux.HandleFunc("/api/storage/stats", api.HandleStorageStats)
	mux.HandleFunc("/health", api.HandleHealth)
}

func (api *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}
