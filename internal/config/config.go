// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Env holds the configuration values for the application.
type Env struct {
	Region        string
	Bucket        string
	ReceiptsTable string
	UsersTable    string

	ProcessQueueURL string
	ReleaseQueueURL string

	SearchHost   string
	SearchAPIKey string
	SearchIndex  string

	PresignTTL           time.Duration
	MaxFileSizeBytes     int64
	ResizeThresholdBytes int64
	AnalyzeTimeout       time.Duration
	StaleProcessingAfter time.Duration

	FreeQuota int
	PaidQuota int

	InactiveFreeUserAfter time.Duration

	DevBypassAuth bool
	JWTSecret     string
}

// MustLoad reads the environment variables and returns an Env struct.
func MustLoad() Env {
	return Env{
		Region:        get("AWS_REGION", "us-east-1"),
		Bucket:        must("S3_BUCKET"),
		ReceiptsTable: must("RECEIPTS_TABLE"),
		UsersTable:    must("USERS_TABLE"),

		ProcessQueueURL: get("PROCESS_QUEUE_URL", ""),
		ReleaseQueueURL: get("RELEASE_QUEUE_URL", ""),

		SearchHost:   get("SEARCH_HOST", ""),
		SearchAPIKey: get("SEARCH_API_KEY", ""),
		SearchIndex:  get("SEARCH_INDEX", "receipts"),

		PresignTTL:           seconds("PRESIGN_TTL_SECONDS", 900),
		MaxFileSizeBytes:     bytes("MAX_FILE_SIZE_BYTES", 10*1024*1024),
		ResizeThresholdBytes: bytes("RESIZE_THRESHOLD_BYTES", 5*1024*1024),
		AnalyzeTimeout:       seconds("ANALYZE_TIMEOUT_SECONDS", 120),
		StaleProcessingAfter: seconds("STALE_PROCESSING_SECONDS", 300),

		FreeQuota: intval("FREE_USER_QUOTA", 50),
		PaidQuota: intval("PAID_USER_QUOTA", 1000),

		InactiveFreeUserAfter: seconds("INACTIVE_FREE_USER_SECONDS", 90*24*3600),

		DevBypassAuth: get("DEV_BYPASS_AUTH", "") == "true",
		JWTSecret:     get("JWT_SECRET", ""),
	}
}

// get returns the value of the environment variable k or def if not set.
func get(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// must returns the value of the environment variable k or panics if not set.
func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic(fmt.Errorf("missing env %s", k))
	}
	return v
}

func intval(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func bytes(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func seconds(k string, def int) time.Duration {
	return time.Duration(intval(k, def)) * time.Second
}

// QuotaFor returns the default image quota for a role.
func (e Env) QuotaFor(role string) int {
	switch role {
	case "paid", "admin":
		return e.PaidQuota
	default:
		return e.FreeQuota
	}
}
