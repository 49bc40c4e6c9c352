package db

import (
	"log/slog"
	"time"
)

type (
	// DB is the dead letter store. The scan loop never retries a failed
	// block fetch or publish; it records the loss here instead so operators
	// can see exactly which block ranges and transactions are incomplete.
	DB interface {
		Close() error

		RecordSkippedBlock(blockNumber uint64, cause error) error
		RecordFailedPublish(txHash string, contract string, cause error) error

		SkippedBlocks() ([]SkippedBlock, error)
		FailedPublishes() ([]FailedPublish, error)
		Counts() (skippedBlocks int, failedPublishes int, err error)
	}

	SkippedBlock struct {
		BlockNumber uint64    `json:"blockNumber"`
		Error       string    `json:"error"`
		At          time.Time `json:"at"`
	}

	FailedPublish struct {
		TxHash   string    `json:"txHash"`
		Contract string    `json:"contract"`
		Error    string    `json:"error"`
		At       time.Time `json:"at"`
	}

	DBOpts struct {
		Logg   *slog.Logger
		DBType string
	}
)

func New(o DBOpts) (DB, error) {
	switch o.DBType {
	case "bolt":
		return NewBoltDBWithPath(dbFolderName)
	default:
		o.Logg.Warn("invalid db type, using default type (bolt)")
		return NewBoltDBWithPath(dbFolderName)
	}
}
