package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/meigma/js5"
	"github.com/meigma/js5/container"
)

type command struct {
	ctx    context.Context
	client *js5.Client
	out    io.Writer
	output string
}

func (c command) index(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: index <archive>")
	}
	archive, err := parseArchive(args[0])
	if err != nil {
		return err
	}
	arch, err := c.client.OpenArchive(c.ctx, archive)
	if err != nil {
		return err
	}
	idx := arch.Index()
	fmt.Fprintf(c.out, "archive %d: protocol %d, version %d, flags %#02x, %d groups\n",
		archive, idx.Protocol, idx.Version, uint8(idx.Flags), len(idx.Groups))
	for _, g := range idx.Groups {
		fmt.Fprintf(c.out, "  group %d: crc %08x, version %d, %d files\n",
			g.ID, g.Checksum, g.Version, len(g.FileIDs))
	}
	return nil
}

func (c command) group(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: group <archive> <group>")
	}
	archive, err := parseArchive(args[0])
	if err != nil {
		return err
	}
	grp, err := parseID(args[1])
	if err != nil {
		return err
	}
	raw, err := c.client.FetchGroup(c.ctx, archive, grp)
	if err != nil {
		return err
	}
	ct, err := c.client.DecodeGroup(raw)
	if err != nil {
		return err
	}
	covered, err := container.ChecksumRange(raw)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "codec: %s\n", ct.Codec)
	fmt.Fprintf(c.out, "compressed length: %d\n", ct.CompressedLength)
	if ct.Codec.Compressed() {
		fmt.Fprintf(c.out, "declared length: %d\n", ct.DeclaredLength)
	}
	fmt.Fprintf(c.out, "payload length: %d\n", len(ct.Payload))
	fmt.Fprintf(c.out, "crc: %08x\n", container.Checksum(covered))
	if ct.HasRevision {
		fmt.Fprintf(c.out, "revision: %d\n", ct.Revision)
	}
	if c.output != "" {
		return os.WriteFile(c.output, ct.Payload, 0o600)
	}
	return nil
}

func (c command) model(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: model <archive> <group> [file]")
	}
	archive, err := parseArchive(args[0])
	if err != nil {
		return err
	}
	grp, err := parseID(args[1])
	if err != nil {
		return err
	}
	var file uint32
	if len(args) == 3 {
		if file, err = parseID(args[2]); err != nil {
			return err
		}
	}

	arch, err := c.client.OpenArchive(c.ctx, archive)
	if err != nil {
		return err
	}
	m, err := arch.Model(c.ctx, grp, file)
	if err != nil {
		return err
	}
	b := m.Bounds()
	fmt.Fprintf(c.out, "format: %s\n", m.Format)
	fmt.Fprintf(c.out, "vertices: %d (%d used)\n", len(m.Vertices), m.UsedVertexCount)
	fmt.Fprintf(c.out, "faces: %d\n", len(m.Faces))
	fmt.Fprintf(c.out, "texture mappings: %d\n", len(m.TextureMappings))
	fmt.Fprintf(c.out, "bounds: min (%d, %d, %d) max (%d, %d, %d)\n",
		b.Box.Min.X, b.Box.Min.Y, b.Box.Min.Z, b.Box.Max.X, b.Box.Max.Y, b.Box.Max.Z)
	fmt.Fprintf(c.out, "radius: xz %d, xyz %d\n", b.XZRadius, b.XYZRadius)
	return nil
}

func parseArchive(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid archive id %q", s)
	}
	return uint8(n), nil //nolint:gosec // ParseUint bounds n to 8 bits
}

func parseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint32(n), nil //nolint:gosec // ParseUint bounds n to 32 bits
}
