package mock

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/detailyang/go-fallocate"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"

	commp "github.com/filecoin-project/go-fil-commp-hashhash"
	commcid "github.com/filecoin-project/go-fil-commcid"
	"github.com/filecoin-project/go-padreader"
	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/seal-stress/storage/sealer/cachecheck"
	"github.com/filecoin-project/seal-stress/storage/sealer/commr"
	"github.com/filecoin-project/seal-stress/storage/sealer/fr32"
	"github.com/filecoin-project/seal-stress/storage/sealer/porep"
	"github.com/filecoin-project/seal-stress/storage/sealer/proofpaths"
	"github.com/filecoin-project/seal-stress/storage/sealer/storiface"
)

var log = logging.Logger("sbmock")

const (
	challengesPerPartition = 4
	proofPartitionSize     = 192
)

// Sealer is a deterministic pure-Go proving backend. It writes the same cache
// layout as the real proofs (label layers, tree-d, tree-c, tree-r-last, p_aux,
// t_aux) and replaces the SNARK with a digest of the public inputs, which is
// only emitted after every vanilla challenge checks out. All state lives in
// the sector paths, so one Sealer serves any number of sessions concurrently.
type Sealer struct{}

var _ storiface.Proofs = &Sealer{}

func New() *Sealer {
	return &Sealer{}
}

type preCommit1Out struct {
	SectorSize abi.SectorSize `json:"sector_size"`
	Layers     int            `json:"layers"`
	CommD      []byte         `json:"comm_d"`
	ReplicaID  []byte         `json:"replica_id"`
}

type tAux struct {
	Layers    int    `json:"layers"`
	CommD     []byte `json:"comm_d"`
	CommC     []byte `json:"comm_c"`
	CommRLast []byte `json:"comm_r_last"`
}

type challengeProof struct {
	Node   uint64 `json:"node"`
	Data   []byte `json:"data"`
	Key    []byte `json:"key"`
	Sealed []byte `json:"sealed"`
	PathD  []byte `json:"path_d"`
	PathR  []byte `json:"path_r"`
}

type commit1Out struct {
	SectorNumber abi.SectorNumber `json:"sector_number"`
	SectorSize   abi.SectorSize   `json:"sector_size"`
	ProverID     []byte           `json:"prover_id"`

	Ticket    []byte `json:"ticket"`
	Seed      []byte `json:"seed"`
	ReplicaID []byte `json:"replica_id"`

	CommD     []byte `json:"comm_d"`
	CommC     []byte `json:"comm_c"`
	CommRLast []byte `json:"comm_r_last"`
	CommR     []byte `json:"comm_r"`

	Challenges []challengeProof `json:"challenges"`
}

func (sb *Sealer) GeneratePieceCommitment(ctx context.Context, sector storiface.SectorRef, piece *os.File, size abi.UnpaddedPieceSize) (abi.PieceInfo, error) {
	if err := ctx.Err(); err != nil {
		return abi.PieceInfo{}, err
	}
	if padreader.PaddedSize(uint64(size)) != size {
		return abi.PieceInfo{}, xerrors.Errorf("piece size %d is not a valid unpadded piece size", size)
	}

	cp := new(commp.Calc)
	n, err := io.Copy(cp, io.LimitReader(piece, int64(size)))
	if err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("reading piece: %w", err)
	}
	if n != int64(size) {
		return abi.PieceInfo{}, xerrors.Errorf("short piece read: %d != %d", n, size)
	}

	return pieceInfo(cp, size)
}

func pieceInfo(cp *commp.Calc, size abi.UnpaddedPieceSize) (abi.PieceInfo, error) {
	raw, padded, err := cp.Digest()
	if err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("computing piece commitment: %w", err)
	}
	if abi.PaddedPieceSize(padded) != size.Padded() {
		return abi.PieceInfo{}, xerrors.Errorf("piece commitment covers %d padded bytes, expected %d", padded, size.Padded())
	}

	c, err := commcid.PieceCommitmentV1ToCID(raw)
	if err != nil {
		return abi.PieceInfo{}, err
	}

	return abi.PieceInfo{
		Size:     size.Padded(),
		PieceCID: c,
	}, nil
}

func (sb *Sealer) AddPiece(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, existing []abi.UnpaddedPieceSize, size abi.UnpaddedPieceSize, piece *os.File) (abi.PieceInfo, error) {
	if err := ctx.Err(); err != nil {
		return abi.PieceInfo{}, err
	}
	if padreader.PaddedSize(uint64(size)) != size {
		return abi.PieceInfo{}, xerrors.Errorf("piece size %d is not a valid unpadded piece size", size)
	}

	var offset abi.UnpaddedPieceSize
	for _, e := range existing {
		offset += e
	}

	ssize := sector.Config.SectorSize
	maxPieceSize := abi.PaddedPieceSize(ssize)
	if offset.Padded()+size.Padded() > maxPieceSize {
		return abi.PieceInfo{}, xerrors.Errorf("can't add %d byte piece to sector %v with %d bytes of existing pieces", size, sector.ID, offset)
	}

	stagedFile, err := openStaged(paths.Unsealed, ssize)
	if err != nil {
		return abi.PieceInfo{}, err
	}
	defer stagedFile.Close() // nolint

	cp := new(commp.Calc)
	pw := fr32.NewPadWriter(io.NewOffsetWriter(stagedFile, int64(offset.Padded())))

	n, err := io.Copy(pw, io.TeeReader(io.LimitReader(piece, int64(size)), cp))
	if err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("writing padded piece: %w", err)
	}
	if n != int64(size) {
		return abi.PieceInfo{}, xerrors.Errorf("short piece read: %d != %d", n, size)
	}
	if err := pw.Close(); err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("closing padded writer: %w", err)
	}
	if err := stagedFile.Sync(); err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("syncing staged sector: %w", err)
	}

	pi, err := pieceInfo(cp, size)
	if err != nil {
		return abi.PieceInfo{}, err
	}

	log.Debugw("added piece", "sector", sector.ID, "size", size, "piece", pi.PieceCID)
	return pi, nil
}

func openStaged(p string, ssize abi.SectorSize) (*os.File, error) {
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, xerrors.Errorf("opening staged sector: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if st.Size() == 0 {
		if err := allocate(f, int64(ssize)); err != nil {
			_ = f.Close()
			return nil, xerrors.Errorf("allocating staged sector: %w", err)
		}
	}

	return f, nil
}

func allocate(f *os.File, size int64) error {
	if err := fallocate.Fallocate(f, 0, size); err != nil {
		log.Warnw("fallocate failed, truncating instead", "file", f.Name(), "error", err)
		return f.Truncate(size)
	}
	return nil
}

func (sb *Sealer) SealPreCommit1(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, ticket abi.SealRandomness, pieces []abi.PieceInfo) (storiface.PreCommit1Out, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ssize := sector.Config.SectorSize

	var sum abi.UnpaddedPieceSize
	for _, p := range pieces {
		sum += p.Size.Unpadded()
	}
	if ussize := abi.PaddedPieceSize(ssize).Unpadded(); sum != ussize {
		return nil, xerrors.Errorf("aggregated piece sizes don't match sector size: %d != %d (%d)", sum, ussize, int64(ussize-sum))
	}

	layers, err := proofpaths.SDRLayers(ssize)
	if err != nil {
		return nil, err
	}

	staged, err := readSized(paths.Unsealed, int64(ssize))
	if err != nil {
		return nil, xerrors.Errorf("reading staged sector: %w", err)
	}

	treeD := buildTree(staged)
	if err := os.WriteFile(filepath.Join(paths.Cache, proofpaths.TreeDFileName()), treeD, 0644); err != nil {
		return nil, xerrors.Errorf("writing tree-d: %w", err)
	}
	commD := treeRoot(treeD)

	expect, err := generateUnsealedCID(ssize, pieces)
	if err != nil {
		return nil, xerrors.Errorf("computing data commitment from pieces: %w", err)
	}
	if err := matchCommD(expect, commD); err != nil {
		return nil, xerrors.Errorf("pieces do not match staged data: %w", err)
	}

	rid := replicaID(sector, ticket, commD)
	_, err = labelLayers(rid, int(ssize)/nodeSize, layers, func(layer int, labels []byte) error {
		return os.WriteFile(filepath.Join(paths.Cache, proofpaths.LayerFileName(layer)), labels, 0644)
	})
	if err != nil {
		return nil, xerrors.Errorf("writing label layers: %w", err)
	}

	return json.Marshal(&preCommit1Out{
		SectorSize: ssize,
		Layers:     layers,
		CommD:      commD[:],
		ReplicaID:  rid[:],
	})
}

func (sb *Sealer) ValidateCacheForPreCommit2(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, pc1o storiface.PreCommit1Out) error {
	if err := cachecheck.PreCommit2(ctx, sector, paths); err != nil {
		return err
	}

	p1, err := parsePreCommit1Out(sector, pc1o)
	if err != nil {
		return err
	}

	root, err := readTreeRoot(filepath.Join(paths.Cache, proofpaths.TreeDFileName()))
	if err != nil {
		return &cachecheck.Error{Sector: sector.ID, File: proofpaths.TreeDFileName(), Reason: err.Error()}
	}
	if !sliceEq(root[:], p1.CommD) {
		return &cachecheck.Error{Sector: sector.ID, File: proofpaths.TreeDFileName(), Reason: "root does not match phase 1 comm_d"}
	}

	return nil
}

func parsePreCommit1Out(sector storiface.SectorRef, pc1o storiface.PreCommit1Out) (*preCommit1Out, error) {
	var p1 preCommit1Out
	if err := json.Unmarshal(pc1o, &p1); err != nil {
		return nil, xerrors.Errorf("unmarshaling pc1 output: %w", err)
	}
	if p1.SectorSize != sector.Config.SectorSize {
		return nil, xerrors.Errorf("pc1 output is for a %d byte sector, expected %d", p1.SectorSize, sector.Config.SectorSize)
	}
	if len(p1.CommD) != 32 || len(p1.ReplicaID) != 32 {
		return nil, xerrors.Errorf("malformed pc1 output")
	}
	return &p1, nil
}

func (sb *Sealer) SealPreCommit2(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, pc1o storiface.PreCommit1Out) (storiface.SectorCids, error) {
	if err := ctx.Err(); err != nil {
		return storiface.SectorCids{}, err
	}

	p1, err := parsePreCommit1Out(sector, pc1o)
	if err != nil {
		return storiface.SectorCids{}, err
	}

	ssize := int64(sector.Config.SectorSize)

	staged, err := readSized(paths.Unsealed, ssize)
	if err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("reading staged sector: %w", err)
	}

	layers := make([][]byte, p1.Layers)
	for l := range layers {
		layers[l], err = readSized(filepath.Join(paths.Cache, proofpaths.LayerFileName(l+1)), ssize)
		if err != nil {
			return storiface.SectorCids{}, xerrors.Errorf("reading layer %d: %w", l+1, err)
		}
	}

	sealed := make([]byte, ssize)
	encode(staged, layers[len(layers)-1], sealed)

	if err := writeAllocated(paths.Sealed, sealed); err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("writing sealed sector: %w", err)
	}

	treeC := buildTree(columnHashes(layers))
	if err := os.WriteFile(filepath.Join(paths.Cache, proofpaths.TreeCFileName()), treeC, 0644); err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("writing tree-c: %w", err)
	}

	treeR := buildTree(sealed)
	if err := os.WriteFile(filepath.Join(paths.Cache, proofpaths.TreeRLastFileName()), treeR, 0644); err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("writing tree-r-last: %w", err)
	}

	commC, commRLast := treeRoot(treeC), treeRoot(treeR)
	commR, err := commr.CommR(commC, commRLast)
	if err != nil {
		return storiface.SectorCids{}, err
	}

	pAux := append(append([]byte{}, commC[:]...), commRLast[:]...)
	if err := os.WriteFile(filepath.Join(paths.Cache, proofpaths.PAuxFile), pAux, 0644); err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("writing p_aux: %w", err)
	}

	ta, err := json.Marshal(&tAux{
		Layers:    p1.Layers,
		CommD:     p1.CommD,
		CommC:     commC[:],
		CommRLast: commRLast[:],
	})
	if err != nil {
		return storiface.SectorCids{}, err
	}
	if err := os.WriteFile(filepath.Join(paths.Cache, proofpaths.TAuxFile), ta, 0644); err != nil {
		return storiface.SectorCids{}, xerrors.Errorf("writing t_aux: %w", err)
	}

	unsealedCID, err := commcid.DataCommitmentV1ToCID(p1.CommD)
	if err != nil {
		return storiface.SectorCids{}, err
	}
	sealedCID, err := commcid.ReplicaCommitmentV1ToCID(commR[:])
	if err != nil {
		return storiface.SectorCids{}, err
	}

	return storiface.SectorCids{
		Unsealed: unsealedCID,
		Sealed:   sealedCID,
	}, nil
}

func (sb *Sealer) ValidateCacheForCommit(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	if err := cachecheck.Commit(ctx, sector, paths); err != nil {
		return err
	}

	pAux, err := readSized(filepath.Join(paths.Cache, proofpaths.PAuxFile), 64)
	if err != nil {
		return &cachecheck.Error{Sector: sector.ID, File: proofpaths.PAuxFile, Reason: err.Error()}
	}

	sealed, err := readSized(paths.Sealed, int64(sector.Config.SectorSize))
	if err != nil {
		return &cachecheck.Error{Sector: sector.ID, File: paths.Sealed, Reason: err.Error()}
	}

	root, err := readTreeRoot(filepath.Join(paths.Cache, proofpaths.TreeRLastFileName()))
	if err != nil {
		return &cachecheck.Error{Sector: sector.ID, File: proofpaths.TreeRLastFileName(), Reason: err.Error()}
	}

	if !sliceEq(root[:], pAux[32:]) {
		return &cachecheck.Error{Sector: sector.ID, File: proofpaths.PAuxFile, Reason: "comm_r_last does not match tree-r-last"}
	}
	if treeRoot(buildTree(sealed)) != root {
		return &cachecheck.Error{Sector: sector.ID, File: proofpaths.TreeRLastFileName(), Reason: "tree-r-last was not built over the sealed sector"}
	}

	return nil
}

func (sb *Sealer) ClearCache(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths) error {
	files, err := proofpaths.PrunedFiles(sector.Config.SectorSize)
	if err != nil {
		return err
	}

	for _, f := range files {
		if err := os.Remove(filepath.Join(paths.Cache, f)); err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("clearing cache file %s: %w", f, err)
		}
	}

	return nil
}

func (sb *Sealer) SealCommit1(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, ticket abi.SealRandomness, seed abi.InteractiveSealRandomness, pieces []abi.PieceInfo, cids storiface.SectorCids) (storiface.Commit1Out, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ssize := sector.Config.SectorSize
	nodes := int(ssize) / nodeSize

	commD, err := commcid.CIDToDataCommitmentV1(cids.Unsealed)
	if err != nil {
		return nil, xerrors.Errorf("unsealed cid: %w", err)
	}
	commR, err := commcid.CIDToReplicaCommitmentV1(cids.Sealed)
	if err != nil {
		return nil, xerrors.Errorf("sealed cid: %w", err)
	}

	expect, err := generateUnsealedCID(ssize, pieces)
	if err != nil {
		return nil, err
	}
	if !expect.Equals(cids.Unsealed) {
		return nil, xerrors.Errorf("pieces do not match unsealed cid %s (expected %s)", cids.Unsealed, expect)
	}

	treeD, err := readSized(filepath.Join(paths.Cache, proofpaths.TreeDFileName()), proofpaths.TreeSize(ssize))
	if err != nil {
		return nil, xerrors.Errorf("reading tree-d: %w", err)
	}
	treeR, err := readSized(filepath.Join(paths.Cache, proofpaths.TreeRLastFileName()), proofpaths.TreeSize(ssize))
	if err != nil {
		return nil, xerrors.Errorf("reading tree-r-last: %w", err)
	}
	pAux, err := readSized(filepath.Join(paths.Cache, proofpaths.PAuxFile), 64)
	if err != nil {
		return nil, xerrors.Errorf("reading p_aux: %w", err)
	}

	rootD := treeRoot(treeD)
	if !sliceEq(rootD[:], commD) {
		return nil, xerrors.Errorf("tree-d root does not match comm_d")
	}

	var commC, commRLast [32]byte
	copy(commC[:], pAux[:32])
	copy(commRLast[:], pAux[32:])
	if treeRoot(treeR) != commRLast {
		return nil, xerrors.Errorf("tree-r-last root does not match p_aux")
	}
	if cr, err := commr.CommR(commC, commRLast); err != nil || !sliceEq(cr[:], commR) {
		return nil, xerrors.Errorf("comm_r does not match p_aux (err: %v)", err)
	}

	layers, err := proofpaths.SDRLayers(ssize)
	if err != nil {
		return nil, err
	}
	key, err := readSized(filepath.Join(paths.Cache, proofpaths.LayerFileName(layers)), int64(ssize))
	if err != nil {
		return nil, xerrors.Errorf("reading key layer: %w", err)
	}

	var cd [32]byte
	copy(cd[:], commD)
	rid := replicaID(sector, ticket, cd)

	out := commit1Out{
		SectorNumber: sector.ID.Number,
		SectorSize:   ssize,
		ProverID:     sector.ProverID[:],
		Ticket:       ticket,
		Seed:         seed,
		ReplicaID:    rid[:],
		CommD:        commD,
		CommC:        commC[:],
		CommRLast:    commRLast[:],
		CommR:        commR,
	}

	for _, node := range challenges(rid, seed, nodes, int(sector.Config.Partitions)*challengesPerPartition) {
		data := treeLeaf(treeD, node)
		sealed := treeLeaf(treeR, node)

		out.Challenges = append(out.Challenges, challengeProof{
			Node:   node,
			Data:   data[:],
			Key:    append([]byte{}, key[node*nodeSize:(node+1)*nodeSize]...),
			Sealed: sealed[:],
			PathD:  treePath(treeD, nodes, node),
			PathR:  treePath(treeR, nodes, node),
		})
	}

	return json.Marshal(&out)
}

func challenges(rid [32]byte, seed abi.InteractiveSealRandomness, nodes, count int) []uint64 {
	out := make([]uint64, count)

	var buf [68]byte
	copy(buf[:32], rid[:])
	copy(buf[32:64], seed)
	for i := range out {
		binary.LittleEndian.PutUint32(buf[64:], uint32(i))
		h := sha256.Sum256(buf[:])
		out[i] = binary.LittleEndian.Uint64(h[:8]) % uint64(nodes)
	}
	return out
}

func (sb *Sealer) SealCommit2(ctx context.Context, sector storiface.SectorRef, c1o storiface.Commit1Out) (storiface.Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var c1 commit1Out
	if err := json.Unmarshal(c1o, &c1); err != nil {
		return nil, xerrors.Errorf("unmarshaling c1 output: %w", err)
	}

	if c1.SectorNumber != sector.ID.Number || !sliceEq(c1.ProverID, sector.ProverID[:]) || c1.SectorSize != sector.Config.SectorSize {
		return nil, xerrors.Errorf("c1 output was generated for a different sector")
	}

	var commD, commC, commRLast [32]byte
	if len(c1.CommD) != 32 || len(c1.CommC) != 32 || len(c1.CommRLast) != 32 {
		return nil, xerrors.Errorf("malformed c1 output")
	}
	copy(commD[:], c1.CommD)
	copy(commC[:], c1.CommC)
	copy(commRLast[:], c1.CommRLast)

	rid := replicaID(sector, c1.Ticket, commD)
	if !sliceEq(rid[:], c1.ReplicaID) {
		return nil, xerrors.Errorf("replica id mismatch")
	}

	commR, err := commr.CommR(commC, commRLast)
	if err != nil {
		return nil, err
	}
	if !sliceEq(commR[:], c1.CommR) {
		return nil, xerrors.Errorf("comm_r mismatch")
	}

	nodes := int(sector.Config.SectorSize) / nodeSize
	expect := challenges(rid, c1.Seed, nodes, int(sector.Config.Partitions)*challengesPerPartition)
	if len(expect) != len(c1.Challenges) {
		return nil, xerrors.Errorf("expected %d challenges, got %d", len(expect), len(c1.Challenges))
	}

	encoded := make([]byte, nodeSize)
	for i, ch := range c1.Challenges {
		if ch.Node != expect[i] {
			return nil, xerrors.Errorf("challenge %d: wrong node %d", i, ch.Node)
		}
		if len(ch.Data) != nodeSize || len(ch.Key) != nodeSize || len(ch.Sealed) != nodeSize {
			return nil, xerrors.Errorf("challenge %d: malformed nodes", i)
		}

		encode(ch.Data, ch.Key, encoded)
		if !sliceEq(encoded, ch.Sealed) {
			return nil, xerrors.Errorf("challenge %d: sealed node is not an encoding of the data node", i)
		}

		var data, sealed [32]byte
		copy(data[:], ch.Data)
		copy(sealed[:], ch.Sealed)
		if !verifyPath(commD, data, ch.Node, ch.PathD) {
			return nil, xerrors.Errorf("challenge %d: bad tree-d inclusion proof", i)
		}
		if !verifyPath(commRLast, sealed, ch.Node, ch.PathR) {
			return nil, xerrors.Errorf("challenge %d: bad tree-r-last inclusion proof", i)
		}
	}

	return sealProof(sector, c1.Ticket, c1.Seed, commD[:], commR[:]), nil
}

// sealProof expands the public inputs into proofPartitionSize bytes per partition.
func sealProof(sector storiface.SectorRef, ticket abi.SealRandomness, seed abi.InteractiveSealRandomness, commD, commR []byte) storiface.Proof {
	var num [8]byte
	binary.LittleEndian.PutUint64(num[:], uint64(sector.ID.Number))

	var inputs []byte
	inputs = append(inputs, sector.Config.PoRepID[:]...)
	inputs = append(inputs, byte(sector.Config.APIVersion))
	inputs = append(inputs, sector.ProverID[:]...)
	inputs = append(inputs, num[:]...)
	inputs = append(inputs, ticket...)
	inputs = append(inputs, seed...)
	inputs = append(inputs, commD...)
	inputs = append(inputs, commR...)

	out := make([]byte, 0, int(sector.Config.Partitions)*proofPartitionSize)
	var ctr [8]byte
	for p := 0; p < int(sector.Config.Partitions); p++ {
		for c := 0; c < proofPartitionSize/32; c++ {
			binary.LittleEndian.PutUint32(ctr[:4], uint32(p))
			binary.LittleEndian.PutUint32(ctr[4:], uint32(c))

			h := sha256.New()
			h.Write(inputs)
			h.Write(ctr[:])
			out = h.Sum(out)
		}
	}

	return out
}

func (sb *Sealer) UnsealRange(ctx context.Context, sector storiface.SectorRef, paths storiface.SectorPaths, out *os.File, ticket abi.SealRandomness, commd cid.Cid, offset storiface.UnpaddedByteIndex, size abi.UnpaddedPieceSize) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := offset.Valid(); err != nil {
		return xerrors.Errorf("unseal offset: %w", err)
	}

	ssize := sector.Config.SectorSize
	if uint64(offset)+uint64(size) > uint64(abi.PaddedPieceSize(ssize).Unpadded()) {
		return xerrors.Errorf("unseal range %d+%d is outside of the sector", offset, size)
	}

	commD, err := commcid.CIDToDataCommitmentV1(commd)
	if err != nil {
		return xerrors.Errorf("unsealed cid: %w", err)
	}
	var cd [32]byte
	copy(cd[:], commD)

	layers, err := proofpaths.SDRLayers(ssize)
	if err != nil {
		return err
	}

	// the key layer is gone after cache clearing, regenerate it
	key, err := labelLayers(replicaID(sector, ticket, cd), int(ssize)/nodeSize, layers, nil)
	if err != nil {
		return err
	}

	chunks := (uint64(size) + 126) / 127
	start := uint64(offset.Padded())
	end := start + chunks*128

	sealedFile, err := os.Open(paths.Sealed)
	if err != nil {
		return xerrors.Errorf("opening sealed sector: %w", err)
	}
	defer sealedFile.Close() // nolint

	sealed := make([]byte, end-start)
	if _, err := sealedFile.ReadAt(sealed, int64(start)); err != nil {
		return xerrors.Errorf("reading sealed sector: %w", err)
	}

	data := make([]byte, len(sealed))
	decode(sealed, key[start:end], data)

	raw := make([]byte, chunks*127)
	fr32.Unpad(data, raw)

	if _, err := out.Write(raw[:size]); err != nil {
		return xerrors.Errorf("writing unsealed data: %w", err)
	}

	return out.Sync()
}

func (sb *Sealer) GenerateUnsealedCID(ctx context.Context, cfg porep.Config, pieces []abi.PieceInfo) (cid.Cid, error) {
	return generateUnsealedCID(cfg.SectorSize, pieces)
}

func (sb *Sealer) VerifySeal(ctx context.Context, info storiface.SealVerifyInfo) (bool, error) {
	commD, err := commcid.CIDToDataCommitmentV1(info.UnsealedCID)
	if err != nil {
		return false, xerrors.Errorf("unsealed cid: %w", err)
	}
	commR, err := commcid.CIDToReplicaCommitmentV1(info.SealedCID)
	if err != nil {
		return false, xerrors.Errorf("sealed cid: %w", err)
	}

	if len(info.Proof) != int(info.Sector.Config.Partitions)*proofPartitionSize {
		return false, nil
	}

	expect := sealProof(info.Sector, info.Randomness, info.InteractiveRandomness, commD, commR)
	return subtle.ConstantTimeCompare(expect, info.Proof) == 1, nil
}

func matchCommD(expect cid.Cid, commD [32]byte) error {
	c, err := commcid.DataCommitmentV1ToCID(commD[:])
	if err != nil {
		return err
	}
	if !c.Equals(expect) {
		return xerrors.Errorf("tree-d root %s != %s", c, expect)
	}
	return nil
}

func readSized(p string, size int64) ([]byte, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) != size {
		return nil, xerrors.Errorf("%s: expected %d bytes, got %d", filepath.Base(p), size, len(b))
	}
	return b, nil
}

func writeAllocated(p string, data []byte) error {
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := allocate(f, int64(len(data))); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func sliceEq(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
