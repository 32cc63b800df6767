package ndkports

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// objectStore is the subset of bucket operations upload needs.
type objectStore interface {
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	UploadFile(ctx context.Context, key string, body []byte) error
	UploadLocalFile(ctx context.Context, key, filePath string) error
	ListObjects(ctx context.Context, prefix string) ([]R2Object, error)
}

// R2Client publishes the Maven repository to a Cloudflare R2 bucket, or to
// any S3-compatible endpoint.
type R2Client struct {
	Client     *s3.Client
	BucketName string
}

// NewR2Client builds a client from the R2_* settings. R2_ENDPOINT, when
// set, replaces the account endpoint derived from R2_ACCOUNT_ID.
func NewR2Client(ctx context.Context, cfg *Config) (*R2Client, error) {
	v := cfg.Values
	endpoint := v["R2_ENDPOINT"]
	if endpoint == "" && v["R2_ACCOUNT_ID"] != "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", v["R2_ACCOUNT_ID"])
	}
	var missing []string
	for _, key := range []string{"R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME"} {
		if v[key] == "" {
			missing = append(missing, key)
		}
	}
	if endpoint == "" {
		missing = append(missing, "R2_ACCOUNT_ID or R2_ENDPOINT")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("R2 credentials missing in configuration: %s", strings.Join(missing, ", "))
	}

	opts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(v["R2_ACCESS_KEY_ID"], v["R2_SECRET_ACCESS_KEY"], "")),
		config.WithRegion("auto"),
	}
	if Debug {
		opts = append(opts, config.WithClientLogMode(aws.LogRetries|aws.LogRequest))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}
	return &R2Client{
		Client: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}),
		BucketName: v["R2_BUCKET_NAME"],
	}, nil
}

// contentTypeFor maps repository files to the types Maven clients expect.
func contentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".json", ".module":
		return "application/json"
	case ".pom", ".xml":
		return "application/xml"
	case ".aar", ".zip":
		return "application/zip"
	case ".asc":
		return "application/pgp-signature"
	}
	return "application/octet-stream"
}

// cacheControlFor lets CDNs keep released versions forever. The index and
// maven-metadata.xml change on every publish and must be revalidated.
func cacheControlFor(key string) string {
	base := path.Base(key)
	if base == repoIndexKey || base == repoIndexSigKey || strings.HasPrefix(base, "maven-metadata.xml") {
		return "no-cache"
	}
	return "public, max-age=31536000, immutable"
}

func (r *R2Client) put(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentTypeFor(key)),
		CacheControl:  aws.String(cacheControlFor(key)),
	})
	return err
}

// DownloadFile fetches an object.
func (r *R2Client) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	out, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.BucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (r *R2Client) UploadFile(ctx context.Context, key string, body []byte) error {
	return r.put(ctx, key, bytes.NewReader(body), int64(len(body)))
}

func (r *R2Client) UploadLocalFile(ctx context.Context, key, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	return r.put(ctx, key, f, info.Size())
}

// R2Object is the listing metadata of one bucket object.
type R2Object struct {
	Key  string
	Size int64
}

// ListObjects returns the objects under prefix.
func (r *R2Client) ListObjects(ctx context.Context, prefix string) ([]R2Object, error) {
	var objects []R2Object
	pages := s3.NewListObjectsV2Paginator(r.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.BucketName),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, R2Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
		}
	}
	return objects, nil
}
