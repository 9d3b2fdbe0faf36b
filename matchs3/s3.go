// Package matchs3 provides a matchstore.Store keeping one S3 object per
// game. Objects hold the JSON state envelope; the object ETag serves as the
// store-assigned revision.
package matchs3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tablegames/matchstore"
	"github.com/tablegames/matchstore/mlog"
)

// metaStateID is the object metadata key carrying the StateID, so listings
// can report versions without fetching bodies.
const metaStateID = "state-id"

// Store keeps one object per game under <prefix><escaped id>.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

type Config struct {
	Bucket string
	// Prefix namespaces all keys, e.g. "games/". May be empty.
	Prefix string
}

var _ matchstore.Store = (*Store)(nil)

// New returns an unconnected store; call Connect before use.
func New(cfg Config) *Store {
	return &Store{bucket: cfg.Bucket, prefix: cfg.Prefix}
}

// Connect loads AWS credentials and region from the environment and
// verifies bucket access.
func (s *Store) Connect(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	s.client = s3.NewFromConfig(awsCfg)
	_, err = s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("access bucket %s: %w", s.bucket, err)
	}
	mlog.Infof("Connected to S3 bucket %s", s.bucket)
	return nil
}

// key escapes the game id so arbitrary ids stay in one key segment and can
// be recovered from listings.
func (s *Store) key(id matchstore.GameID) string {
	return s.prefix + url.PathEscape(string(id))
}

func (s *Store) FindOne(ctx context.Context, id matchstore.GameID) (matchstore.GameState, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return matchstore.GameState{}, matchstore.ErrNotFound
	}
	if err != nil {
		return matchstore.GameState{}, fmt.Errorf("get game %q: %w", id, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return matchstore.GameState{}, fmt.Errorf("read game %q: %w", id, err)
	}
	var state matchstore.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		return matchstore.GameState{}, fmt.Errorf("decode game %q: %w", id, err)
	}
	state.Rev = strings.Trim(aws.ToString(out.ETag), `"`)
	return state, nil
}

func (s *Store) Upsert(ctx context.Context, id matchstore.GameID, state matchstore.GameState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode game %q: %w", id, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			metaStateID: strconv.FormatInt(state.StateID, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("put game %q: %w", id, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, id matchstore.GameID) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("head game %q: %w", id, err)
	}
	return true, nil
}

// ListRecent pages over the key prefix, orders by LastModified and reads
// the StateID of the newest games from object metadata. Listing cost grows
// with the number of stored games; this is operator tooling, not a hot
// path.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]matchstore.GameInfo, error) {
	if limit <= 0 {
		return nil, nil
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	var objs []types.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list games: %w", err)
		}
		objs = append(objs, page.Contents...)
	}
	sort.Slice(objs, func(i, j int) bool {
		return aws.ToTime(objs[i].LastModified).After(aws.ToTime(objs[j].LastModified))
	})
	if len(objs) > limit {
		objs = objs[:limit]
	}
	infos := make([]matchstore.GameInfo, 0, len(objs))
	for _, obj := range objs {
		key := aws.ToString(obj.Key)
		name, err := url.PathUnescape(strings.TrimPrefix(key, s.prefix))
		if err != nil {
			continue // not a game object
		}
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if isNotFound(err) {
			continue // deleted since the listing
		}
		if err != nil {
			return nil, fmt.Errorf("head game %q: %w", name, err)
		}
		stateID, err := strconv.ParseInt(head.Metadata[metaStateID], 10, 64)
		if err != nil {
			continue // foreign object under our prefix
		}
		infos = append(infos, matchstore.GameInfo{
			ID:       matchstore.GameID(name),
			StateID:  stateID,
			Modified: aws.ToTime(obj.LastModified),
		})
	}
	return infos, nil
}

// Close releases nothing; the S3 client holds no persistent connection
// state of its own.
func (s *Store) Close() error {
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
