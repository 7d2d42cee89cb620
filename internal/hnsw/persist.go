package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/ndxdb/engine/internal/space"
	"github.com/ndxdb/engine/internal/version"
)

const snapshotMagic = uint32(0x484e5357) // "HNSW"

// Save writes a zstd-compressed snapshot of the graph to path, stamped with
// the current manifest format version.
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("hnsw: create snapshot: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("hnsw: zstd writer: %w", err)
	}
	defer enc.Close()

	bw := bufio.NewWriter(enc)
	defer bw.Flush()

	if err := writeHeader(bw, snapshotMagic); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(version.ManifestFormatVersionCurrent)); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(g.maxElements)); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(g.m)); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(g.efConstruction)); err != nil {
		return err
	}
	if err := writeBool(bw, g.hasEntry); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(g.entryPoint)); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(len(g.nodes))); err != nil {
		return err
	}
	for _, nd := range g.nodes {
		if err := writeNode(bw, nd); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads a snapshot produced by Save, rebinding it to sp. It rejects
// snapshots whose manifest format version this node can't read.
func Load(path string, sp *space.Space) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hnsw: open snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("hnsw: zstd reader: %w", err)
	}
	defer dec.Close()

	br := bufio.NewReader(dec)
	if err := readAndCheckHeader(br, snapshotMagic); err != nil {
		return nil, err
	}
	formatVersion, err := readUvarint(br)
	if err != nil {
		return nil, fmt.Errorf("hnsw: read snapshot format version: %w", err)
	}
	if err := version.CheckManifestVersion(int(formatVersion)); err != nil {
		return nil, fmt.Errorf("hnsw: %w", err)
	}
	maxElements, err := readUvarint(br)
	if err != nil {
		return nil, err
	}
	m, err := readUvarint(br)
	if err != nil {
		return nil, err
	}
	efCon, err := readUvarint(br)
	if err != nil {
		return nil, err
	}
	hasEntry, err := readBool(br)
	if err != nil {
		return nil, err
	}
	entryPoint, err := readUvarint(br)
	if err != nil {
		return nil, err
	}
	count, err := readUvarint(br)
	if err != nil {
		return nil, err
	}

	g := New(sp, int(maxElements))
	g.m = int(m)
	g.efConstruction = int(efCon)
	g.hasEntry = hasEntry
	g.entryPoint = IntId(entryPoint)

	for i := uint64(0); i < count; i++ {
		nd, err := readNode(br)
		if err != nil {
			return nil, err
		}
		g.nodes[nd.id] = nd
	}
	return g, nil
}

func writeHeader(w io.Writer, magic uint32) error {
	return binary.Write(w, binary.LittleEndian, magic)
}

func readAndCheckHeader(r io.Reader, want uint32) error {
	var got uint32
	if err := binary.Read(r, binary.LittleEndian, &got); err != nil {
		return fmt.Errorf("hnsw: read header: %w", err)
	}
	if got != want {
		return fmt.Errorf("hnsw: bad snapshot magic %x", got)
	}
	return nil
}

func writeUvarint(w io.Writer, v uint64) error {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, v)
	_, err := w.Write(buf[:n])
	return err
}

func readUvarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func readBool(r io.Reader) (bool, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false, err
	}
	return buf[0] == 1, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r *bufio.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeNode(w io.Writer, nd *node) error {
	if err := writeUvarint(w, uint64(nd.id)); err != nil {
		return err
	}
	if err := writeUvarint(w, uint64(nd.level)); err != nil {
		return err
	}
	if err := writeBool(w, nd.deleted); err != nil {
		return err
	}
	if err := writeBytes(w, nd.vector); err != nil {
		return err
	}
	for l := 0; l <= nd.level; l++ {
		neighbors := nd.neighbors[l]
		if err := writeUvarint(w, uint64(len(neighbors))); err != nil {
			return err
		}
		for _, nb := range neighbors {
			if err := writeUvarint(w, uint64(nb)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readNode(r *bufio.Reader) (*node, error) {
	id, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	level, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	deleted, err := readBool(r)
	if err != nil {
		return nil, err
	}
	vector, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	nd := &node{
		id:        IntId(id),
		level:     int(level),
		deleted:   deleted,
		vector:    vector,
		neighbors: make([][]IntId, level+1),
	}
	for l := 0; l <= int(level); l++ {
		count, err := readUvarint(r)
		if err != nil {
			return nil, err
		}
		neighbors := make([]IntId, count)
		for i := range neighbors {
			v, err := readUvarint(r)
			if err != nil {
				return nil, err
			}
			neighbors[i] = IntId(v)
		}
		nd.neighbors[l] = neighbors
	}
	return nd, nil
}
