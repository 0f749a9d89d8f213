package db

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/crossgate/crossgate/pkg/transfer"
)

// Database is the per-ledger persistent store backing the bridge state
// machine: the append-only deposit log (indexed by digest and by insertion
// order), the pending-withdraw records and the emitted event history.
type Database struct {
	db *badger.DB
}

var (
	ErrDepositNotFound         = errors.New("deposit not found in store")
	ErrPendingWithdrawNotFound = errors.New("pending withdraw not found in store")

	storedDepositsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crossgate_db_deposits_total",
			Help: "Total number of deposit records added to the database",
		})
)

func depositKey(digest transfer.Digest) []byte {
	return []byte(fmt.Sprintf("deposit/%s", digest.Hex()))
}

func depositSeqKey(nonce uint64) []byte {
	return []byte(fmt.Sprintf("depositseq/%020d", nonce))
}

func pendingKey(digest transfer.Digest) []byte {
	return []byte(fmt.Sprintf("pending/%s", digest.Hex()))
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seq))
}

var (
	depositCountKey = []byte("meta/depositcount")
	eventCountKey   = []byte("meta/eventcount")
)

func (d *Database) Close() error {
	return d.db.Close()
}

// StoreDeposit appends a deposit to the log. The record, its insertion-order
// index entry and the log length are committed in one transaction. Deposits
// are immutable; an existing digest is never overwritten.
func (d *Database) StoreDeposit(dep *transfer.Deposit) error {
	b, err := dep.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal deposit: %w", err)
	}
	digest := dep.Digest()

	err = d.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(depositKey(digest)); err == nil {
			return fmt.Errorf("deposit %s already stored", digest.Hex())
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(depositKey(digest), b); err != nil {
			return err
		}
		if err := txn.Set(depositSeqKey(dep.Nonce), digest.Bytes()); err != nil {
			return err
		}
		return incrementCounter(txn, depositCountKey)
	})
	if err != nil {
		return fmt.Errorf("failed to commit deposit: %w", err)
	}

	storedDepositsTotal.Inc()
	return nil
}

// GetDeposit looks a deposit up by its digest.
func (d *Database) GetDeposit(digest transfer.Digest) (*transfer.Deposit, error) {
	var b []byte
	if err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(depositKey(digest))
		if err != nil {
			return err
		}
		b, err = item.ValueCopy(nil)
		return err
	}); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	return transfer.UnmarshalDeposit(b)
}

// GetDepositByNonce looks a deposit up by its position in the log.
func (d *Database) GetDepositByNonce(nonce uint64) (*transfer.Deposit, error) {
	var digest transfer.Digest
	if err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(depositSeqKey(nonce))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			copy(digest[:], val)
			return nil
		})
	}); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	return d.GetDeposit(digest)
}

// DepositCount returns the length of the deposit log, which is also the next
// nonce to assign.
func (d *Database) DepositCount() (uint64, error) {
	var count uint64
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(depositCountKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			count = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	return count, err
}

// StorePendingWithdraw writes or updates a pending-withdraw record.
func (d *Database) StorePendingWithdraw(p *transfer.PendingWithdraw) error {
	b, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal pending withdraw: %w", err)
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(p.Digest()), b)
	})
	if err != nil {
		return fmt.Errorf("failed to commit pending withdraw: %w", err)
	}
	return nil
}

// GetPendingWithdraw looks a pending withdraw up by its digest.
func (d *Database) GetPendingWithdraw(digest transfer.Digest) (*transfer.PendingWithdraw, error) {
	var b []byte
	if err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pendingKey(digest))
		if err != nil {
			return err
		}
		b, err = item.ValueCopy(nil)
		return err
	}); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrPendingWithdrawNotFound
		}
		return nil, err
	}
	return transfer.UnmarshalPendingWithdraw(b)
}

// HasPendingWithdraw reports whether a record exists for the digest.
func (d *Database) HasPendingWithdraw(digest transfer.Digest) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(pendingKey(digest))
		return err
	})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// AppendEvent persists one emitted event so indexers can reconstruct full
// history without direct storage access.
func (d *Database) AppendEvent(data []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		seq, err := readCounter(txn, eventCountKey)
		if err != nil {
			return err
		}
		if err := txn.Set(eventKey(seq), data); err != nil {
			return err
		}
		return incrementCounter(txn, eventCountKey)
	})
}

// Events returns the persisted event log in emission order.
func (d *Database) Events() ([][]byte, error) {
	out := make([][]byte, 0)
	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("event/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, val)
		}
		return nil
	})
	return out, err
}

func readCounter(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var count uint64
	err = item.Value(func(val []byte) error {
		count = binary.BigEndian.Uint64(val)
		return nil
	})
	return count, err
}

func incrementCounter(txn *badger.Txn, key []byte) error {
	count, err := readCounter(txn, key)
	if err != nil {
		return err
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, count+1)
	return txn.Set(key, b)
}
