// Package js5 reads game assets from JS5 archives served over HTTP.
//
// An archive server stores every asset as a group: a container (a small
// header plus a compressed body) holding one or more files. Each archive has
// an index, itself stored as group (255, archive), which lists the groups,
// their CRC-32 checksums and the ids of the files they hold.
//
// The subpackages decode each layer on its own:
//   - [github.com/meigma/js5/container] decodes containers
//   - [github.com/meigma/js5/index] decodes archive indexes
//   - [github.com/meigma/js5/group] splits group payloads into files
//   - [github.com/meigma/js5/model] decodes 3D model geometry
//
// This package ties them to a fetcher and caches through [Client].
//
// # Quick Start
//
//	c, err := js5.NewClient(js5.WithCacheDir("/var/cache/js5"))
//	if err != nil {
//	    return err
//	}
//	models, err := c.OpenArchive(ctx, 7)
//	if err != nil {
//	    return err
//	}
//	m, err := models.Model(ctx, 1234, 0)
//
// # Caching
//
// Raw group containers can be cached on disk with [WithCacheDir] or through
// any [cache.Cache] with [WithCache]. Cache keys include the checksum the
// index records for a group, so an updated group is always refetched.
// Each [Archive] also keeps recently unpacked groups in memory.
//
// # Errors
//
// Failures are reported per asset. Errors from fetching or decoding a group
// are wrapped in a [*GroupError] and match the sentinels re-exported in this
// package with [errors.Is].
package js5
