package journal

import (
	"database/sql"
	"errors"
	"time"
)

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		driver       sql.NullString
		status       string
		startedRaw   string
		finishedRaw  sql.NullString
		errorMessage sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Device,
		&run.Backend,
		&driver,
		&run.InputFormat,
		&run.Streams,
		&status,
		&startedRaw,
		&finishedRaw,
		&run.FramesQueued,
		&run.FramesCompleted,
		&errorMessage,
	); err != nil {
		return nil, err
	}
	run.Driver = driver.String
	run.Status = RunStatus(status)
	run.ErrorMessage = errorMessage.String
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			run.FinishedAt = finished
		}
	}
	return &run, nil
}

func scanFrame(scanner interface{ Scan(dest ...any) error }) (Frame, error) {
	var (
		frame      Frame
		sequence   int64
		latencyUS  int64
		outputPath sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&frame.ID,
		&frame.RunID,
		&frame.Source,
		&frame.Stream,
		&frame.Status,
		&sequence,
		&latencyUS,
		&outputPath,
		&createdRaw,
	); err != nil {
		return Frame{}, err
	}
	frame.Sequence = uint32(sequence)
	frame.Latency = time.Duration(latencyUS) * time.Microsecond
	frame.OutputPath = outputPath.String
	if created, err := parseTimeString(createdRaw); err == nil {
		frame.CreatedAt = created
	}
	return frame, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
