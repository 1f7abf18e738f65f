package ssh

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

// Upload copies the local file or directory tree src to dst on the host.
// Directories are created as needed and file modes are preserved.
func (c *Client) Upload(ctx context.Context, src, dst string) (files int, err error) {
	client, err := c.conn()
	if err != nil {
		return 0, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return 0, &TransportError{Op: "upload", Address: c.config.Address(), Err: fmt.Errorf("failed to start sftp: %w", err), IsTemporary: true}
	}
	defer sftpClient.Close()

	info, err := os.Stat(src)
	if err != nil {
		return 0, &TransportError{Op: "upload", Err: err}
	}
	if !info.IsDir() {
		if err := sftpClient.MkdirAll(path.Dir(dst)); err != nil {
			return 0, c.uploadErr(dst, err)
		}
		if err := uploadFile(ctx, sftpClient, src, dst, info.Mode().Perm()); err != nil {
			return 0, c.uploadErr(dst, err)
		}
		return 1, nil
	}

	err = filepath.WalkDir(src, func(local string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, local)
		if err != nil {
			return err
		}
		remote := path.Join(dst, filepath.ToSlash(rel))

		if d.IsDir() {
			return sftpClient.MkdirAll(remote)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if err := uploadFile(ctx, sftpClient, local, remote, fi.Mode().Perm()); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return files, c.uploadErr(dst, err)
	}

	c.logger.Debug().Str("source", src).Str("destination", dst).Int("files", files).Msg("Upload finished")
	return files, nil
}

func (c *Client) uploadErr(dst string, err error) error {
	return &TransportError{Op: "upload", Address: c.config.Address(), Err: fmt.Errorf("%s: %w", dst, err)}
}

func uploadFile(ctx context.Context, client *sftp.Client, local, remote string, mode os.FileMode) error {
	in, err := os.Open(local)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := client.Create(remote)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer out.Close()

	if err := copyWithContext(ctx, out, in); err != nil {
		return err
	}
	return client.Chmod(remote, mode)
}

// copyWithContext copies in chunks, checking ctx between them.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
