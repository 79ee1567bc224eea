// Package objectstore implements component G (§4.4, §4.5): an
// S3-compatible client for publishing and fetching Merkle path blobs,
// plus the CID derivation used to address them.
package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client publishes and fetches content-addressed blobs in an
// S3-compatible bucket (§4.4 component G).
type Client struct {
	s3     *s3.Client
	bucket string
	gzip   bool
}

// New builds a Client for an S3-compatible endpoint (AWS, Filebase,
// MinIO, any IPFS-pinning gateway exposing the S3 API). gz controls
// whether Publish compresses blobs before upload.
func New(region, bucket, endpoint, accessKey, secretKey string, gz bool) *Client {
	cfg := aws.Config{
		Credentials:  credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		BaseEndpoint: aws.String(endpoint),
		Region:       region,
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return &Client{s3: client, bucket: bucket, gzip: gz}
}

// Publish uploads pathsJSON under its content-derived key (§4.5) and
// returns the CID the cloud side will later resolve it by. Uploads are
// idempotent: identical content always maps to the same key, so retries
// after a partial failure overwrite harmlessly.
func (c *Client) Publish(ctx context.Context, pathsJSON []byte) (key string, cid string, err error) {
	key = ObjectKey(pathsJSON, c.gzip)

	body := pathsJSON
	if c.gzip {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(pathsJSON); err != nil {
			return "", "", fmt.Errorf("objectstore: gzip: %w", err)
		}
		if err := gw.Close(); err != nil {
			return "", "", fmt.Errorf("objectstore: gzip close: %w", err)
		}
		body = buf.Bytes()
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if c.gzip {
		input.ContentEncoding = aws.String("gzip")
	}

	if _, err := c.s3.PutObject(ctx, input); err != nil {
		return "", "", fmt.Errorf("objectstore: put object: %w", err)
	}

	cid, err = DeriveCID(pathsJSON)
	if err != nil {
		return "", "", err
	}
	return key, cid, nil
}

// Fetch retrieves a blob by key and inflates it if the object carries a
// gzip Content-Encoding, matching the verifier's GET step (§4.8).
func (c *Client) Fetch(ctx context.Context, key string) ([]byte, error) {
	output, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get object: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read object body: %w", err)
	}

	if output.ContentEncoding != nil && *output.ContentEncoding == "gzip" {
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("objectstore: gzip reader: %w", err)
		}
		defer gr.Close()
		data, err = io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("objectstore: inflate: %w", err)
		}
	}
	return data, nil
}

// Exists reports whether key is already present, letting Publish's
// caller skip a redundant upload on retry.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.ResponseError.HTTPStatusCode() == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("objectstore: head object: %w", err)
	}
	return true, nil
}
