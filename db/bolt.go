package db

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

type boltDB struct {
	db *bolt.DB
}

const (
	dbFolderName = "db/tracker_db"

	skippedBlocksBucket   = "skipped_blocks"
	failedPublishesBucket = "failed_publishes"
)

var sortableOrder = binary.BigEndian

var (
	skippedBlocksBucketB   = []byte(skippedBlocksBucket)
	failedPublishesBucketB = []byte(failedPublishesBucket)
)

func NewBoltDB() (DB, error) {
	return NewBoltDBWithPath(dbFolderName)
}

func NewBoltDBWithPath(path string) (DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      2 * time.Second,
		FreelistType: bolt.FreelistMapType,
	})
	if err != nil {
		return nil, err
	}

	bdb := &boltDB{db: db}
	if err := bdb.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}

	return bdb, nil
}

func (d *boltDB) initBuckets() error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bucketNames := [][]byte{
			skippedBlocksBucketB,
			failedPublishesBucketB,
		}

		for _, name := range bucketNames {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
}

func (d *boltDB) Close() error {
	return d.db.Close()
}

func u64Key(v uint64) [8]byte {
	var key [8]byte
	sortableOrder.PutUint64(key[:], v)
	return key
}

func mustBucket(tx *bolt.Tx, bucket []byte, bucketName string) (*bolt.Bucket, error) {
	b := tx.Bucket(bucket)
	if b == nil {
		return nil, fmt.Errorf("missing bucket %s", bucketName)
	}
	return b, nil
}

func (d *boltDB) RecordSkippedBlock(blockNumber uint64, cause error) error {
	entry := SkippedBlock{
		BlockNumber: blockNumber,
		Error:       cause.Error(),
		At:          time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return d.db.Batch(func(tx *bolt.Tx) error {
		b, err := mustBucket(tx, skippedBlocksBucketB, skippedBlocksBucket)
		if err != nil {
			return err
		}
		key := u64Key(blockNumber)
		return b.Put(key[:], data)
	})
}

func (d *boltDB) RecordFailedPublish(txHash string, contract string, cause error) error {
	entry := FailedPublish{
		TxHash:   txHash,
		Contract: contract,
		Error:    cause.Error(),
		At:       time.Now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return d.db.Batch(func(tx *bolt.Tx) error {
		b, err := mustBucket(tx, failedPublishesBucketB, failedPublishesBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(txHash+":"+contract), data)
	})
}

func (d *boltDB) SkippedBlocks() ([]SkippedBlock, error) {
	var entries []SkippedBlock
	err := d.db.View(func(tx *bolt.Tx) error {
		b, err := mustBucket(tx, skippedBlocksBucketB, skippedBlocksBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			var entry SkippedBlock
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

func (d *boltDB) FailedPublishes() ([]FailedPublish, error) {
	var entries []FailedPublish
	err := d.db.View(func(tx *bolt.Tx) error {
		b, err := mustBucket(tx, failedPublishesBucketB, failedPublishesBucket)
		if err != nil {
			return err
		}
		return b.ForEach(func(_, v []byte) error {
			var entry FailedPublish
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

func (d *boltDB) Counts() (int, int, error) {
	var skipped, failed int
	err := d.db.View(func(tx *bolt.Tx) error {
		sb, err := mustBucket(tx, skippedBlocksBucketB, skippedBlocksBucket)
		if err != nil {
			return err
		}
		skipped = sb.Stats().KeyN

		fb, err := mustBucket(tx, failedPublishesBucketB, failedPublishesBucket)
		if err != nil {
			return err
		}
		failed = fb.Stats().KeyN
		return nil
	})
	return skipped, failed, err
}
