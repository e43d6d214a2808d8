package aws

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/tampertrail/tampertrail-go/pkg/models"
	"github.com/tampertrail/tampertrail-go/pkg/provider"
)

const (
	ActionCloudWatchLog = "cloudwatch.log"
	controlMessage      = "CONTROL_MESSAGE"
)

// Provider implements the CloudProvider interface for AWS CloudWatch Logs
// subscriptions, delivered either directly or through Kinesis records.
type Provider struct {
	environment string
}

// NewProvider creates a new AWS provider. environment is attached to every event when set.
func NewProvider(environment string) provider.CloudProvider {
	return &Provider{
		environment: environment,
	}
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "aws"
}

// CloudWatchLogs represents AWS CloudWatch Logs event structure
type CloudWatchLogs struct {
	AWSLogs struct {
		Data string `json:"data"`
	} `json:"awslogs"`
	Records []struct {
		RecordID string `json:"recordId"`
		Data     string `json:"data"`
	} `json:"records"`
}

// CloudWatchLogsData represents the decoded CloudWatch Logs data
type CloudWatchLogsData struct {
	MessageType         string     `json:"messageType"`
	Owner               string     `json:"owner"`
	LogGroup            string     `json:"logGroup"`
	LogStream           string     `json:"logStream"`
	SubscriptionFilters []string   `json:"subscriptionFilters"`
	LogEvents           []LogEvent `json:"logEvents"`
}

// LogEvent represents a single log event
type LogEvent struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// ParseBatch decodes a CloudWatch Logs payload into one event per log line.
// Kinesis records that fail to decode are skipped.
func (p *Provider) ParseBatch(ctx context.Context, rawEvent interface{}) ([]*models.Event, error) {
	data, err := json.Marshal(rawEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	var cwLogs CloudWatchLogs
	if err := json.Unmarshal(data, &cwLogs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CloudWatch Logs: %w", err)
	}

	var events []*models.Event

	// Handle Kinesis records
	if len(cwLogs.Records) > 0 {
		for _, record := range cwLogs.Records {
			decodedData, err := decodeCloudWatchData(record.Data)
			if err != nil {
				continue
			}
			parsed, err := p.toEvents(decodedData)
			if err != nil {
				continue
			}
			events = append(events, parsed...)
		}
		return events, nil
	}

	if cwLogs.AWSLogs.Data == "" {
		return events, nil
	}

	decodedData, err := decodeCloudWatchData(cwLogs.AWSLogs.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode CloudWatch data: %w", err)
	}
	return p.toEvents(decodedData)
}

func (p *Provider) toEvents(decoded []byte) ([]*models.Event, error) {
	var cwData CloudWatchLogsData
	if err := json.Unmarshal(decoded, &cwData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal CloudWatch Logs data: %w", err)
	}
	// subscription health checks carry no log lines
	if cwData.MessageType == controlMessage {
		return nil, nil
	}

	events := make([]*models.Event, 0, len(cwData.LogEvents))
	for _, logEvent := range cwData.LogEvents {
		opts := []models.Option{
			models.WithLevel(models.LevelInfo),
			models.WithMessage(logEvent.Message),
			models.WithTags(map[string]any{
				"log_group":    cwData.LogGroup,
				"log_stream":   cwData.LogStream,
				"log_event_id": logEvent.ID,
				"timestamp":    strconv.FormatInt(logEvent.Timestamp, 10),
				"owner":        cwData.Owner,
			}),
		}
		if p.environment != "" {
			opts = append(opts, models.WithEnvironment(p.environment))
		}
		events = append(events, models.NewEvent("service:"+cwData.LogGroup, ActionCloudWatchLog, opts...))
	}
	return events, nil
}

func decodeCloudWatchData(data string) ([]byte, error) {
	// Decode base64
	base64Decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	// Decompress gzip
	gz, err := gzip.NewReader(bytes.NewReader(base64Decoded))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	decompressed, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip: %w", err)
	}

	return decompressed, nil
}
