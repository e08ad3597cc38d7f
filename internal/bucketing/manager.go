package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"social-service/internal/config"
	"social-service/internal/models"
)

// BucketingManager spreads conversations and audit events across a fixed
// number of partitions with murmur3.
type BucketingManager struct {
	conversationBuckets int
	eventBuckets        int
	hasherPool          sync.Pool
}

func NewBucketingManager(cfg config.BucketingConfig) *BucketingManager {
	bm := &BucketingManager{
		conversationBuckets: max(cfg.ConversationBuckets, 1),
		eventBuckets:        max(cfg.EventBuckets, 1),
	}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// ConversationBucket is direction independent: (a,b) and (b,a) share a bucket.
func (bm *BucketingManager) ConversationBucket(a, b string) int {
	return bm.getBucket(models.PairKey(a, b), bm.conversationBuckets)
}

func (bm *BucketingManager) EventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// DateBucket returns the UTC day used as the audit partition key.
func (bm *BucketingManager) DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) ConversationBuckets() int {
	return bm.conversationBuckets
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
