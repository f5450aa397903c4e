package cache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"pathflow/internal/models"
)

// On-disk bag record. Fixed-endian, versioned, self-describing enough to
// be read back without any database:
//
//	magic "PFBG" | version u16 | fingerprint | slide id | tile px u32 |
//	dropped u32 | N u32 | D u32 | N*(x i32, y i32) | N*D float32
var bagMagic = [4]byte{'P', 'F', 'B', 'G'}

const bagVersion uint16 = 1

func encodeBag(w io.Writer, bag *models.FeatureBag) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(bagMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, bagVersion); err != nil {
		return err
	}
	if err := writeString(bw, bag.Fingerprint); err != nil {
		return err
	}
	if err := writeString(bw, bag.SlideID); err != nil {
		return err
	}
	n := len(bag.Coords)
	if len(bag.Features) != n {
		return fmt.Errorf("bag has %d coords but %d feature rows", n, len(bag.Features))
	}
	header := []uint32{uint32(bag.TileSizePx), uint32(bag.Dropped), uint32(n), uint32(bag.Dim)}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, c := range bag.Coords {
		if err := binary.Write(bw, binary.LittleEndian, [2]int32{int32(c.X), int32(c.Y)}); err != nil {
			return err
		}
	}
	for i, row := range bag.Features {
		if len(row) != bag.Dim {
			return fmt.Errorf("feature row %d has dimension %d, want %d", i, len(row), bag.Dim)
		}
		if err := binary.Write(bw, binary.LittleEndian, row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func decodeBag(r io.Reader) (*models.FeatureBag, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != bagMagic {
		return nil, fmt.Errorf("not a feature bag file (magic %q)", magic[:])
	}
	var version uint16
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != bagVersion {
		return nil, fmt.Errorf("unsupported bag version %d", version)
	}
	fingerprint, err := readString(br)
	if err != nil {
		return nil, fmt.Errorf("read fingerprint: %w", err)
	}
	slideID, err := readString(br)
	if err != nil {
		return nil, fmt.Errorf("read slide id: %w", err)
	}
	var header [4]uint32
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	tilePx, dropped, n, dim := int(header[0]), int(header[1]), int(header[2]), int(header[3])
	coords := make([]models.TileCoord, n)
	for i := range coords {
		var xy [2]int32
		if err := binary.Read(br, binary.LittleEndian, &xy); err != nil {
			return nil, fmt.Errorf("read coord %d: %w", i, err)
		}
		coords[i] = models.TileCoord{X: int(xy[0]), Y: int(xy[1])}
	}
	features := make([][]float32, n)
	for i := range features {
		row := make([]float32, dim)
		if err := binary.Read(br, binary.LittleEndian, row); err != nil {
			return nil, fmt.Errorf("read feature row %d: %w", i, err)
		}
		features[i] = row
	}
	return &models.FeatureBag{
		SlideID:     slideID,
		Fingerprint: fingerprint,
		TileSizePx:  tilePx,
		Coords:      coords,
		Features:    features,
		Dim:         dim,
		Dropped:     dropped,
	}, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", fmt.Errorf("string length %d implausible", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
