package store

import (
	"context"
	"fmt"
	"io"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	badgerds "github.com/ipfs/go-ds-badger2"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

var _ ContentStore = (*Local)(nil)

// Local is an in-process ContentStore backed by a blockstore.
type Local struct {
	bs     blockstore.Blockstore
	closer io.Closer
}

// NewLocal wraps an existing datastore.
func NewLocal(ds datastore.Batching) *Local {
	return &Local{bs: blockstore.NewBlockstore(ds)}
}

// NewMemory returns a Local store held entirely in memory.
func NewMemory() *Local {
	return NewLocal(dssync.MutexWrap(datastore.NewMapDatastore()))
}

// OpenBadger opens (or creates) a persistent Local store under dir.
func OpenBadger(dir string) (*Local, error) {
	ds, err := badgerds.NewDatastore(dir, &badgerds.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger datastore %s: %v", types.ErrStore, dir, err)
	}
	return &Local{bs: blockstore.NewBlockstore(ds), closer: ds}, nil
}

// Close releases the underlying datastore, if it owns one.
func (l *Local) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Local) Put(ctx context.Context, node *Node) (types.ContentID, error) {
	data, c, err := EncodeNode(node)
	if err != nil {
		return "", err
	}
	if err := l.putBlock(ctx, data, c); err != nil {
		return "", err
	}
	return types.ContentID(c.String()), nil
}

func (l *Local) Get(ctx context.Context, id types.ContentID) (*Node, error) {
	c, err := id.Cid()
	if err != nil {
		return nil, err
	}
	if c.Type() != cid.DagCBOR {
		return nil, fmt.Errorf("%w: %s is not a dag node", types.ErrNotFound, id)
	}
	data, err := l.getBlock(ctx, c)
	if err != nil {
		return nil, err
	}
	return DecodeNode(data)
}

func (l *Local) Resolve(ctx context.Context, id types.ContentID, path string) (types.ContentID, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		c, err := id.Cid()
		if err != nil {
			return "", err
		}
		ok, err := l.bs.Has(ctx, c)
		if err != nil {
			return "", fmt.Errorf("%w: has %s: %v", types.ErrStore, id, err)
		}
		if !ok {
			return "", fmt.Errorf("%w: %s", types.ErrNotFound, id)
		}
		return types.ContentID(c.String()), nil
	}

	cur := id
	for _, seg := range segs {
		node, err := l.Get(ctx, cur)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", id.Join(path), err)
		}
		next, ok := node.Link(seg)
		if !ok {
			return "", fmt.Errorf("%w: no link named %q under %s", types.ErrNotFound, seg, cur)
		}
		cur = next
	}
	return cur, nil
}

func (l *Local) PutFile(ctx context.Context, data []byte) (types.ContentID, error) {
	c, err := FileCID(data)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	if err := l.putBlock(ctx, data, c); err != nil {
		return "", err
	}
	return types.ContentID(c.String()), nil
}

func (l *Local) GetFile(ctx context.Context, id types.ContentID) ([]byte, error) {
	c, err := id.Cid()
	if err != nil {
		return nil, err
	}
	if c.Type() != cid.Raw {
		return nil, fmt.Errorf("%w: %s is not a file", types.ErrNotFound, id)
	}
	return l.getBlock(ctx, c)
}

func (l *Local) putBlock(ctx context.Context, data []byte, c cid.Cid) error {
	blk, err := blocks.NewBlockWithCid(data, c)
	if err != nil {
		return fmt.Errorf("%w: build block: %v", types.ErrStore, err)
	}
	if err := l.bs.Put(ctx, blk); err != nil {
		return fmt.Errorf("%w: put %s: %v", types.ErrStore, c, err)
	}
	return nil
}

func (l *Local) getBlock(ctx context.Context, c cid.Cid) ([]byte, error) {
	blk, err := l.bs.Get(ctx, c)
	if ipld.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, c)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", types.ErrStore, c, err)
	}
	return blk.RawData(), nil
}
