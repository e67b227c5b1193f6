package corpus

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afroash/lora-digest/internal/chunker"
	"github.com/afroash/lora-digest/internal/ingest"
	"github.com/afroash/lora-digest/internal/models"
)

const sampleCSV = `timestamp,temperature,humidity,pressure,battery,charging,rssi,snr,interval
00:00:00,18.5,65.0,1013.2,4.18,0,-85,8.5,600
01:00:00,18.2,66.0,1013.1,4.17,0,-87,8.2,600
02:00:00,18.0,67.0,1013.0,4.16,0,-86,8.0,600
03:00:00,17.8,68.0,1012.9,4.15,0,-85,7.8,600
04:00:00,17.9,67.5,1012.8,4.14,0,-88,7.5,600
05:00:00,18.1,66.5,1012.7,4.13,0,-86,7.8,600
06:00:00,18.5,65.0,1012.8,4.12,1,-84,8.0,600
07:00:00,19.2,63.0,1013.0,4.15,1,-83,8.3,600
08:00:00,20.1,60.0,1013.2,4.18,1,-82,8.5,600
09:00:00,21.3,58.0,1013.5,4.19,1,-81,8.8,600
10:00:00,22.5,55.0,1013.8,4.20,1,-80,9.0,600
11:00:00,23.1,53.0,1014.0,4.21,1,-79,9.2,600
12:00:00,23.8,52.0,1014.2,4.22,1,-78,9.5,600
`

func newPipeline(hours int) *Pipeline {
	reader := ingest.NewReader(ingest.Options{
		Now: func() time.Time { return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC) },
	}, zerolog.Nop())
	policy := chunker.GapWindow{Window: time.Duration(hours) * time.Hour, MaxGap: chunker.DefaultMaxGap}
	return NewPipeline(reader, policy, zerolog.Nop())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func sampleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, date := range []string{"2025-12-01", "2025-12-02", "2025-12-03"} {
		writeFile(t, dir, "lora_data_"+date+".csv", sampleCSV)
	}
	return dir
}

func TestPipeline_ProcessFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lora_data_2025-12-02.csv", sampleCSV)

	result, err := newPipeline(4).ProcessFile(path)
	require.NoError(t, err)
	require.Len(t, result.Documents, 4)
	require.Len(t, result.Chunks, 4)
	require.Len(t, result.Statistics, 4)

	assert.Contains(t, result.Documents[0].Text, "decreasing")
	total := 0
	for i, doc := range result.Documents {
		assert.Equal(t, i, doc.Metadata.ChunkID)
		assert.Equal(t, path, doc.Metadata.Source)
		assert.Equal(t, "2025-12-02", doc.Metadata.Date)
		total += doc.Metadata.ReadingCount
	}
	assert.Equal(t, 13, total)
	assert.Equal(t, 13, result.Report.RowsRead)
}

func TestPipeline_ProcessReader(t *testing.T) {
	p := newPipeline(4)

	result, err := p.ProcessReader("upload.csv", strings.NewReader(sampleCSV), "2024-05-01")
	require.NoError(t, err)
	require.Len(t, result.Documents, 4)
	assert.Equal(t, "2024-05-01", result.Documents[0].Metadata.Date)
	assert.Equal(t, "2024-05-01 00:00:00", result.Documents[0].Metadata.TimeStart)
	assert.Equal(t, "upload.csv", result.Documents[0].Metadata.Source)

	daily, err := p.WithPolicy(chunker.GapWindow{}).ProcessReader("upload.csv", strings.NewReader(sampleCSV), "2024-05-01")
	require.NoError(t, err)
	assert.Len(t, daily.Documents, 1)
	assert.Equal(t, chunker.PolicyGapWindow, p.Policy().Name())
}

func TestPipeline_NoData(t *testing.T) {
	p := newPipeline(4)

	result, err := p.ProcessReader("empty.csv", strings.NewReader(""), "")
	assert.True(t, ingest.IsEmpty(err))
	assert.Empty(t, result.Documents)

	csv := "timestamp,temperature,humidity,pressure,battery\nnoon,20,50,1000,4\n"
	result, err = p.ProcessReader("lora_data_2025-12-02.csv", strings.NewReader(csv), "")
	assert.True(t, ingest.IsEmpty(err))
	require.NotNil(t, result.Report)
	assert.Equal(t, 1, result.Report.RowsInvalidTime)
	assert.Empty(t, result.Documents)
}

func TestPipeline_NonFiniteRowsStayEncodable(t *testing.T) {
	csv := "timestamp,temperature,humidity,pressure,battery,power_source,rssi,snr\n" +
		"00:00:00,NaN,50.0,1000.0,4.0,Battery,-80,8.0\n" +
		"00:10:00,20.0,+Inf,1000.0,4.0,Battery,-80,8.0\n" +
		"00:20:00,20.5,51.0,1001.0,4.1,Battery,-81,7.5\n" +
		"00:30:00,21.0,52.0,1001.5,4.1,Battery,-82,inf\n" +
		"00:40:00,21.5,53.0,1002.0,4.2,Battery,-83,7.0\n"

	result, err := newPipeline(4).ProcessReader("lora_data_2025-12-02.csv", strings.NewReader(csv), "")
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, 3, result.Report.RowsDropped)
	assert.Equal(t, 2, result.Documents[0].Metadata.ReadingCount)

	for _, doc := range result.Documents {
		data, err := json.Marshal(doc)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "NaN")
	}
	_, err = json.Marshal(Summarize(result.Documents))
	require.NoError(t, err)
}

func TestDiscover(t *testing.T) {
	dir := sampleDir(t)
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "other_2025-12-01.csv", sampleCSV)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "lora_data_archive.csv"), 0755))

	files, err := Discover(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "lora_data_2025-12-01.csv"), files[0])
	assert.Equal(t, filepath.Join(dir, "lora_data_2025-12-03.csv"), files[2])

	all, err := Discover(dir, "*.csv")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDiscover_MissingOrEmpty(t *testing.T) {
	files, err := Discover(filepath.Join(t.TempDir(), "missing"), DefaultPattern)
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = Discover(t.TempDir(), DefaultPattern)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = Discover(t.TempDir(), "[")
	assert.Error(t, err)
}

func TestAggregator_RunDir(t *testing.T) {
	dir := sampleDir(t)
	agg := NewAggregator(newPipeline(4), 1, zerolog.Nop())

	run, err := agg.RunDir(context.Background(), dir, DefaultPattern)
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Len(t, run.Documents, 12)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 0, run.Empty)
	assert.Equal(t, 0, run.Skipped)

	// chunk numbering restarts per source
	assert.Equal(t, 0, run.Documents[4].Metadata.ChunkID)
	assert.Equal(t, "2025-12-02", run.Documents[4].Metadata.Date)

	summary := run.Summary()
	assert.Equal(t, 12, summary.TotalChunks)
	assert.Equal(t, 39, summary.TotalReadings)
	assert.Equal(t, []string{"2025-12-01", "2025-12-02", "2025-12-03"}, summary.Dates)
	assert.Len(t, summary.Sources, 3)
	assert.Equal(t, "2025-12-01 00:00:00", summary.TimeStart)
	assert.Equal(t, "2025-12-03 12:00:00", summary.TimeEnd)
}

func TestAggregator_IsolatesFailures(t *testing.T) {
	dir := sampleDir(t)
	writeFile(t, dir, "lora_data_2025-12-04.csv", "timestamp,temperature,humidity,pressure,battery\n")
	writeFile(t, dir, "lora_data_2025-12-05.csv", "timestamp,temperature\n00:00:00,20\n")

	files, err := Discover(dir, DefaultPattern)
	require.NoError(t, err)
	files = append(files, filepath.Join(dir, "lora_data_2025-12-06.csv"))

	run, err := NewAggregator(newPipeline(4), 1, zerolog.Nop()).Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Processed)
	assert.Equal(t, 2, run.Empty)
	assert.Equal(t, 1, run.Skipped)
	assert.Len(t, run.Documents, 12)

	require.Len(t, run.Files, 6)
	assert.Equal(t, StatusProcessed, run.Files[0].Status)
	assert.Equal(t, 4, run.Files[0].Chunks)
	assert.Equal(t, StatusEmpty, run.Files[3].Status)
	assert.Equal(t, StatusEmpty, run.Files[4].Status)
	assert.Equal(t, StatusSkipped, run.Files[5].Status)
	assert.NotEmpty(t, run.Files[5].Error)
}

func TestAggregator_ParallelMatchesSequential(t *testing.T) {
	dir := sampleDir(t)

	seq, err := NewAggregator(newPipeline(4), 1, zerolog.Nop()).RunDir(context.Background(), dir, "")
	require.NoError(t, err)
	par, err := NewAggregator(newPipeline(4), 3, zerolog.Nop()).RunDir(context.Background(), dir, "")
	require.NoError(t, err)

	assert.Equal(t, seq.Documents, par.Documents)
	assert.Equal(t, seq.Processed, par.Processed)
}

func TestAggregator_Cancelled(t *testing.T) {
	dir := sampleDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := NewAggregator(newPipeline(4), 2, zerolog.Nop()).RunDir(ctx, dir, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, run)
}

func TestAggregator_EmptyDir(t *testing.T) {
	run, err := NewAggregator(newPipeline(4), 1, zerolog.Nop()).RunDir(context.Background(), t.TempDir(), "")
	require.NoError(t, err)
	assert.Empty(t, run.Documents)
	assert.Equal(t, NoDataText, RenderSummary(run.Summary()))
}

func TestSummarize(t *testing.T) {
	docs := []models.ChunkDocument{
		{Metadata: models.ChunkMetadata{
			ChunkID: 0, Source: "a.csv", Date: "2025-12-02",
			TimeStart: "2025-12-02 00:00:00", TimeEnd: "2025-12-02 03:00:00",
			ReadingCount: 4, TemperatureMean: 18, HumidityMean: 66, PressureMean: 1013, BatteryMean: 4.1,
		}},
		{Metadata: models.ChunkMetadata{
			ChunkID: 0, Source: "b.csv", Date: "2025-12-01",
			TimeStart: "2025-12-01 08:00:00", TimeEnd: "2025-12-01 11:00:00",
			ReadingCount: 6, TemperatureMean: 22, HumidityMean: 54, PressureMean: 1015, BatteryMean: 3.9,
		}},
	}

	s := Summarize(docs)
	assert.Equal(t, 2, s.TotalChunks)
	assert.Equal(t, 10, s.TotalReadings)
	assert.Equal(t, []string{"2025-12-01", "2025-12-02"}, s.Dates)
	assert.Equal(t, []string{"a.csv", "b.csv"}, s.Sources)
	assert.Equal(t, "2025-12-01 08:00:00", s.TimeStart)
	assert.Equal(t, "2025-12-02 03:00:00", s.TimeEnd)
	assert.Equal(t, models.Range{Min: 18, Max: 22, Mean: 20}, s.Temperature)
	assert.Equal(t, models.Range{Min: 54, Max: 66, Mean: 60}, s.Humidity)
	assert.Equal(t, models.Range{Min: 1013, Max: 1015, Mean: 1014}, s.Pressure)
	assert.InDelta(t, 4.0, s.Battery.Mean, 1e-9)

	text := RenderSummary(s)
	for _, want := range []string{
		"=== DATA SUMMARY ===",
		"Total Chunks: 2",
		"Total Readings: 10",
		"Dates: 2025-12-01, 2025-12-02",
		"=== OVERALL STATISTICS ===",
		"Temperature: min=18.0°C, max=22.0°C, avg=20.0°C",
		"Pressure: min=1013hPa, max=1015hPa, avg=1014hPa",
		"Time Range: 2025-12-01 08:00:00 to 2025-12-02 03:00:00",
	} {
		assert.Contains(t, text, want)
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.True(t, s.IsEmpty())
	assert.Equal(t, 0, s.TotalReadings)
	assert.Equal(t, NoDataText, RenderSummary(s))
}
