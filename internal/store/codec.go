package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/ChuLiYu/claim-engine/pkg/types"
)

// linkTag is the CBOR tag dag-cbor uses for CIDs.
const linkTag = 42

var (
	nodePrefix = cid.Prefix{Version: 1, Codec: cid.DagCBOR, MhType: multihash.SHA2_256, MhLength: -1}
	filePrefix = cid.Prefix{Version: 1, Codec: cid.Raw, MhType: multihash.SHA2_256, MhLength: -1}

	encMode = mustEncMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}
	return em
}

// EncodeNode returns the canonical dag-cbor encoding of n and its CID.
func EncodeNode(n *Node) ([]byte, cid.Cid, error) {
	if err := n.validate(); err != nil {
		return nil, cid.Undef, err
	}
	m := make(map[string]interface{}, len(n.Links)+len(n.Fields))
	for _, l := range n.Links {
		c, err := l.CID.Cid()
		if err != nil {
			return nil, cid.Undef, fmt.Errorf("link %q: %w", l.Name, err)
		}
		// dag-cbor prefixes the binary CID with the identity multibase byte
		m[l.Name] = cbor.Tag{Number: linkTag, Content: append([]byte{0x00}, c.Bytes()...)}
	}
	for k, v := range n.Fields {
		m[k] = v
	}
	data, err := encMode.Marshal(m)
	if err != nil {
		return nil, cid.Undef, fmt.Errorf("encode node: %w", err)
	}
	c, err := nodePrefix.Sum(data)
	if err != nil {
		return nil, cid.Undef, fmt.Errorf("hash node: %w", err)
	}
	return data, c, nil
}

// DecodeNode parses a dag-cbor node produced by EncodeNode.
func DecodeNode(data []byte) (*Node, error) {
	var m map[string]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	n := NewNode()
	for k, v := range m {
		switch t := v.(type) {
		case cbor.Tag:
			c, err := tagToCid(t)
			if err != nil {
				return nil, fmt.Errorf("link %q: %w", k, err)
			}
			n.AddLink(k, types.ContentID(c.String()))
		case string:
			n.SetField(k, t)
		default:
			return nil, fmt.Errorf("entry %q: unsupported value %T", k, v)
		}
	}
	sortLinks(n.Links)
	return n, nil
}

func tagToCid(t cbor.Tag) (cid.Cid, error) {
	if t.Number != linkTag {
		return cid.Undef, fmt.Errorf("unexpected tag %d", t.Number)
	}
	b, ok := t.Content.([]byte)
	if !ok || len(b) < 2 || b[0] != 0x00 {
		return cid.Undef, fmt.Errorf("malformed link")
	}
	return cid.Cast(b[1:])
}

// FileCID returns the raw-codec CID of data.
func FileCID(data []byte) (cid.Cid, error) {
	return filePrefix.Sum(data)
}
