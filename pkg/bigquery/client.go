// Package bigquery wraps the BigQuery client for the analytics dataset.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/angelmondragon/payintents-backend/pkg/config"
	"github.com/angelmondragon/payintents-backend/pkg/gcp"
	"github.com/angelmondragon/payintents-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errDatasetRequired = errors.New("bigquery dataset is required")
	errTableRequired   = errors.New("bigquery table name is required")
	errNotInitialized  = errors.New("bigquery client not initialized")
)

// Client is bound to one dataset. Tables are registered through EnsureTable
// and rechecked by Ping.
type Client struct {
	client        *bigquery.Client
	dataset       *bigquery.Dataset
	createMissing bool
	logg          *logger.Logger

	mu     sync.Mutex
	tables []string
}

// NewClient connects and fails when the dataset does not exist.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID, err := gcp.Project(gcpCfg)
	if err != nil {
		return nil, err
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{
		client:        bq,
		dataset:       bq.Dataset(datasetID),
		createMissing: cfg.CreateMissingTables,
		logg:          logg,
	}
	if err := c.checkDataset(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "dataset", datasetID), "bigquery client initialized")
	}
	return c, nil
}

// EnsureTable verifies name exists. A missing table is created from schema,
// day-partitioned on partitionField, when table creation is enabled.
func (c *Client) EnsureTable(ctx context.Context, name string, schema bigquery.Schema, partitionField string) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return errTableRequired
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.dataset.Table(name)
	_, err := table.Metadata(ctx)
	switch {
	case err == nil:
	case gcp.NotFound(err) && c.createMissing:
		if err := table.Create(ctx, tableMetadata(schema, partitionField)); err != nil {
			return fmt.Errorf("creating table %q: %w", name, err)
		}
		if c.logg != nil {
			c.logg.Info(c.logg.WithField(ctx, "table", name), "bigquery table created")
		}
	case gcp.NotFound(err):
		return fmt.Errorf("table %q does not exist", name)
	default:
		return fmt.Errorf("checking table %q: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tables {
		if t == name {
			return nil
		}
	}
	c.tables = append(c.tables, name)
	return nil
}

func tableMetadata(schema bigquery.Schema, partitionField string) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: schema}
	if partitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: partitionField,
		}
	}
	return meta
}

// Ping checks the dataset and every table registered so far.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	if err := c.checkDataset(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	tables := append([]string(nil), c.tables...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	for _, name := range tables {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
	}
	return nil
}

func (c *Client) checkDataset(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	if _, err := c.dataset.Metadata(ctx); err != nil {
		if gcp.NotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	return nil
}

// InsertRows streams rows into table. Rows may be ValueSavers to carry
// insert ids.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return errNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
