package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/jimyag/vmhost/internal/vmhost/entity"
)

// key 布局：
//
//	vm:<id>                     -> VM JSON
//	idx:vm:<seq>                -> id（插入顺序）
//	snap:<id>                   -> Snapshot JSON
//	idx:snap:<vmID>:<seq>       -> snapshot id
const (
	vmPrefix       = "vm:"
	vmIndexPrefix  = "idx:vm:"
	snapPrefix     = "snap:"
	snapIdxPrefix  = "idx:snap:"
	sequenceKey    = "seq:insert"
	sequenceLease  = 100
	maxTxnAttempts = 5
)

// BadgerStore 基于 Badger 的持久化实现
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore 打开（或创建）path 下的 Badger 数据库
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceLease)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("get badger sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func vmKey(id string) []byte {
	return []byte(vmPrefix + id)
}

func snapKey(id string) []byte {
	return []byte(snapPrefix + id)
}

func seqSuffix(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(v []byte) error {
		return json.Unmarshal(v, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// update 遇到事务冲突时重试，fn 每次都会基于最新数据重新执行
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxTxnAttempts {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) Insert(_ context.Context, vm *entity.VM) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(vmKey(vm.ID)); err == nil {
			return ErrVMExists(vm.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, vmKey(vm.ID), vm); err != nil {
			return err
		}
		return txn.Set([]byte(vmIndexPrefix+seqSuffix(n)), []byte(vm.ID))
	})
}

func (s *BadgerStore) Get(_ context.Context, id string) (*entity.VM, error) {
	var out entity.VM
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, vmKey(id), &out)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrVMNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Update(_ context.Context, id string, fn func(vm *entity.VM) error) (*entity.VM, error) {
	var out *entity.VM
	err := s.update(func(txn *badger.Txn) error {
		var vm entity.VM
		if err := getJSON(txn, vmKey(id), &vm); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrVMNotFound(id)
			}
			return err
		}
		if err := fn(&vm); err != nil {
			return err
		}
		vm.ID = id
		out = &vm
		return setJSON(txn, vmKey(id), &vm)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) List(_ context.Context, filter Filter) ([]*entity.VM, error) {
	out := make([]*entity.VM, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(vmIndexPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var vm entity.VM
			if err := getJSON(txn, vmKey(string(id)), &vm); err != nil {
				return fmt.Errorf("load vm %s: %w", id, err)
			}
			if filter.Match(&vm) {
				out = append(out, &vm)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) ExistsByName(ctx context.Context, name string, excluding ...entity.Status) (bool, error) {
	vms, err := s.List(ctx, Filter{})
	if err != nil {
		return false, err
	}
	for _, vm := range vms {
		if NameTaken(vm, name, excluding) {
			return true, nil
		}
	}
	return false, nil
}

func (s *BadgerStore) InsertSnapshot(_ context.Context, snap *entity.Snapshot) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(snapKey(snap.ID)); err == nil {
			return ErrSnapshotExists(snap.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, snapKey(snap.ID), snap); err != nil {
			return err
		}
		return txn.Set([]byte(snapIdxPrefix+snap.VMID+":"+seqSuffix(n)), []byte(snap.ID))
	})
}

func (s *BadgerStore) GetSnapshot(_ context.Context, id string) (*entity.Snapshot, error) {
	var out entity.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, snapKey(id), &out)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrSnapshotNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) ListSnapshots(_ context.Context, vmID string) ([]*entity.Snapshot, error) {
	out := make([]*entity.Snapshot, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(snapIdxPrefix + vmID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var snap entity.Snapshot
			if err := getJSON(txn, snapKey(string(id)), &snap); err != nil {
				return fmt.Errorf("load snapshot %s: %w", id, err)
			}
			out = append(out, &snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("release sequence: %w", err)
	}
	return s.db.Close()
}
