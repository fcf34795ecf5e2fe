// Package sqs wraps the AWS SQS client with the queue operations used by job channels.
package sqs

import (
	"errors"
	"time"
)

// Config configures an SQS client.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set. Endpoint points the client at a compatible
// service such as LocalStack or ElasticMQ.
type Config struct {
	// Region is the AWS region. Empty lets the SDK resolve it from env or profile.
	Region string

	// Endpoint is a custom endpoint URL. Leave empty for AWS.
	Endpoint string

	// Profile is the AWS shared config profile.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key.
	SecretAccessKey string

	// RequestTimeout bounds calls that are not long polls. Zero disables it.
	RequestTimeout time.Duration
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.AccessKeyID != "" && c.SecretAccessKey == "" {
		return errors.New("secret access key is required when access key id is set")
	}
	if c.SecretAccessKey != "" && c.AccessKeyID == "" {
		return errors.New("access key id is required when secret access key is set")
	}
	if c.RequestTimeout < 0 {
		return errors.New("request timeout must not be negative")
	}
	return nil
}
