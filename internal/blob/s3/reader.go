package s3blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Reader implements domain.BlobReader with HeadObject.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader over c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.S3(), bucket: c.Bucket()}
}

// Stat returns an object's size and metadata without fetching its body. A
// missing object yields domain.ErrNotFound.
func (r *Reader) Stat(ctx context.Context, path string) (domain.BlobInfo, error) {
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.BlobInfo{}, fmt.Errorf("s3blob: stat %s: %w", path, domain.ErrNotFound)
		}
		return domain.BlobInfo{}, fmt.Errorf("s3blob: stat %s: %w", path, err)
	}
	return domain.BlobInfo{
		Path:         path,
		Size:         aws.ToInt64(out.ContentLength),
		ContentType:  aws.ToString(out.ContentType),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// isNotFound matches NoSuchKey, NotFound and the bare 404 some
// S3-compatible providers return for HEAD.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var resp *awshttp.ResponseError
	switch {
	case errors.As(err, &nsk), errors.As(err, &nf):
		return true
	case errors.As(err, &resp):
		return resp.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}

var _ domain.BlobReader = (*Reader)(nil)
