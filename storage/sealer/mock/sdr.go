package mock

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/minio/sha256-simd"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

func replicaID(sector storiface.SectorRef, ticket abi.SealRandomness, commD [32]byte) [32]byte {
	h := sha256.New()
	h.Write(sector.ProverID[:])

	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], uint64(sector.ID.Number))
	h.Write(num[:])

	h.Write(ticket)
	h.Write(commD[:])
	h.Write(sector.Config.PoRepID[:])
	h.Write([]byte{byte(sector.Config.APIVersion)})

	var out [32]byte
	h.Sum(out[:0])
	trunc254(&out)
	return out
}

// labelLayers derives the stacked labels for a replica. Every label depends on
// the previous label in its layer and the same node of the layer below, so the
// whole sector has to be walked to recover any key node. emit, when set, sees
// each finished layer; the returned slice is the last (key) layer.
func labelLayers(rid [32]byte, nodes, layers int, emit func(layer int, labels []byte) error) ([]byte, error) {
	prev := make([]byte, nodes*nodeSize)
	cur := make([]byte, nodes*nodeSize)

	var buf [nodeSize + 4 + 8 + 2*nodeSize]byte
	copy(buf[:nodeSize], rid[:])

	for l := 1; l <= layers; l++ {
		binary.LittleEndian.PutUint32(buf[nodeSize:], uint32(l))

		for j := 0; j < nodes; j++ {
			binary.LittleEndian.PutUint64(buf[nodeSize+4:], uint64(j))
			copy(buf[nodeSize+12:nodeSize+12+nodeSize], prev[j*nodeSize:])
			if j > 0 {
				copy(buf[nodeSize+12+nodeSize:], cur[(j-1)*nodeSize:j*nodeSize])
			} else {
				clear(buf[nodeSize+12+nodeSize:])
			}

			label := sha256.Sum256(buf[:])
			trunc254(&label)
			copy(cur[j*nodeSize:], label[:])
		}

		if emit != nil {
			if err := emit(l, cur); err != nil {
				return nil, err
			}
		}
		prev, cur = cur, prev
	}

	return prev, nil
}

// columnHashes hashes every node across all layers, leaves for tree-c.
func columnHashes(layers [][]byte) []byte {
	nodes := len(layers[0]) / nodeSize
	out := make([]byte, len(layers[0]))

	h := sha256.New()
	var sum [32]byte
	for j := 0; j < nodes; j++ {
		h.Reset()
		for _, layer := range layers {
			h.Write(layer[j*nodeSize : (j+1)*nodeSize])
		}
		h.Sum(sum[:0])
		trunc254(&sum)
		copy(out[j*nodeSize:], sum[:])
	}
	return out
}

func feLE(b []byte) fr.Element {
	var be [32]byte
	for i := range be {
		be[i] = b[31-i]
	}

	var e fr.Element
	e.SetBytes(be[:])
	return e
}

func putFeLE(out []byte, e *fr.Element) {
	be := e.Bytes()
	for i := range be {
		out[i] = be[31-i]
	}
}

// encode adds the key to the data node by node in the scalar field.
func encode(data, key, out []byte) {
	for i := 0; i < len(data); i += nodeSize {
		d := feLE(data[i : i+nodeSize])
		k := feLE(key[i : i+nodeSize])
		d.Add(&d, &k)
		putFeLE(out[i:i+nodeSize], &d)
	}
}

func decode(sealed, key, out []byte) {
	for i := 0; i < len(sealed); i += nodeSize {
		s := feLE(sealed[i : i+nodeSize])
		k := feLE(key[i : i+nodeSize])
		s.Sub(&s, &k)
		putFeLE(out[i:i+nodeSize], &s)
	}
}
