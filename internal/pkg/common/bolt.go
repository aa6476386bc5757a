package common

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/samber/do/v2"
	bolt "go.etcd.io/bbolt"
)

const (
	AccountsBucket     = "ledger:accounts"
	JournalCountBucket = "journal:count"
)

var (
	ErrBucketNotFound  = errors.New("bucket doesn't exist")
	ErrAccountExists   = errors.New("account already allocated")
	ErrAccountNotFound = errors.New("account not found")
)

type DatabaseService struct {
	DB *bolt.DB
}

func NewDatabaseService(i do.Injector) (*DatabaseService, error) {
	dataDir := do.MustInvokeNamed[string](i, "data-dir")

	err := os.MkdirAll(dataDir, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create database path: %w", err)
	}

	dbPath := path.Join(dataDir, "challenger.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{
			AccountsBucket,
			JournalCountBucket,
		} {
			_, err := tx.CreateBucketIfNotExists([]byte(bucket))
			if err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database buckets: %w", err)
	}

	return &DatabaseService{
		DB: db,
	}, nil
}

func (s *DatabaseService) Shutdown() error {
	//nolint:wrapcheck
	return s.DB.Close()
}

// Allocate stores data under a fresh address. It never overwrites.
func (s *DatabaseService) Allocate(address []byte, data []byte) error {
	//nolint:wrapcheck
	return s.DB.Update(func(tx *bolt.Tx) error {
		accounts := tx.Bucket([]byte(AccountsBucket))
		if accounts == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, AccountsBucket)
		}

		if accounts.Get(address) != nil {
			return ErrAccountExists
		}

		err := accounts.Put(address, data)
		if err != nil {
			return fmt.Errorf("failed to put account: %w", err)
		}

		return nil
	})
}

func (s *DatabaseService) Load(address []byte) ([]byte, error) {
	var result []byte

	err := s.DB.View(func(tx *bolt.Tx) error {
		accounts := tx.Bucket([]byte(AccountsBucket))
		if accounts == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, AccountsBucket)
		}

		data := accounts.Get(address)
		if data == nil {
			return ErrAccountNotFound
		}

		result = bytes.Clone(data)

		return nil
	})
	if err != nil {
		//nolint:wrapcheck
		return nil, err
	}

	return result, nil
}

// Mutate runs a read-modify-write of one account inside a single write
// transaction. An error from mutate discards the whole transaction.
func (s *DatabaseService) Mutate(address []byte, mutate func(data []byte) ([]byte, error)) error {
	//nolint:wrapcheck
	return s.DB.Update(func(tx *bolt.Tx) error {
		accounts := tx.Bucket([]byte(AccountsBucket))
		if accounts == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, AccountsBucket)
		}

		data := accounts.Get(address)
		if data == nil {
			return ErrAccountNotFound
		}

		updated, err := mutate(bytes.Clone(data))
		if err != nil {
			return err
		}

		err = accounts.Put(address, updated)
		if err != nil {
			return fmt.Errorf("failed to put account: %w", err)
		}

		return nil
	})
}

// Scan calls visit for every account whose data holds match at offset.
func (s *DatabaseService) Scan(offset int, match []byte, visit func(address, data []byte) error) error {
	//nolint:wrapcheck
	return s.DB.View(func(tx *bolt.Tx) error {
		accounts := tx.Bucket([]byte(AccountsBucket))
		if accounts == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, AccountsBucket)
		}

		return accounts.ForEach(func(k, v []byte) error {
			end := offset + len(match)
			if len(v) < end || !bytes.Equal(v[offset:end], match) {
				return nil
			}

			return visit(bytes.Clone(k), bytes.Clone(v))
		})
	})
}

func (s *DatabaseService) Increment(bucket string, key string) (int64, error) {
	var result int64

	err := s.DB.Update(func(tx *bolt.Tx) error {
		counts := tx.Bucket([]byte(bucket))
		if counts == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
		}

		result = BytesToInt64(counts.Get([]byte(key)), 0) + 1

		err := counts.Put([]byte(key), Int64ToBytes(result))
		if err != nil {
			return fmt.Errorf("failed to put %s count: %w", key, err)
		}

		return nil
	})
	if err != nil {
		//nolint:wrapcheck
		return 0, err
	}

	return result, nil
}

func (s *DatabaseService) Counts(bucket string) (map[string]int64, error) {
	result := map[string]int64{}

	err := s.DB.View(func(tx *bolt.Tx) error {
		counts := tx.Bucket([]byte(bucket))
		if counts == nil {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
		}

		return counts.ForEach(func(k, v []byte) error {
			result[string(k)] = BytesToInt64(v, 0)

			return nil
		})
	})
	if err != nil {
		//nolint:wrapcheck
		return nil, err
	}

	return result, nil
}

func Int64ToBytes(i int64) []byte {
	buf := make([]byte, 8)
	//nolint:gosec // Intentional conversion for binary encoding
	binary.LittleEndian.PutUint64(buf, uint64(i))

	return buf
}

func BytesToInt64(b []byte, _default int64) int64 {
	if len(b) == 0 {
		return _default
	}

	//nolint:gosec // Intentional conversion from binary encoding
	return int64(binary.LittleEndian.Uint64(b))
}
