package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/cryptox"
	"github.com/Fides-Storage/Server-sub000/internal/filex"
	"github.com/spf13/cobra"
)

func newRegisterCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create an account and its key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			w := cmd.ErrOrStderr()
			name, err := a.username(w)
			if err != nil {
				return err
			}
			mk, hash, err := a.credentials(w, name, true)
			if err != nil {
				return err
			}
			conn, err := a.connect(ctx)
			if err != nil {
				return err
			}
			v := &vault{conn: conn, masterKey: mk}
			defer v.close(ctx)

			if err := conn.CreateUser(ctx, name, hash); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			if err := conn.Login(ctx, name, hash); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			fk := cryptox.NewFileKey()
			defer common.WipeByteArray(fk)
			sealed, err := cryptox.Seal(mk, fk)
			if err != nil {
				return err
			}
			if err := conn.UpdateKeyFile(ctx, bytes.NewReader(sealed)); err != nil {
				return fmt.Errorf("store key file: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", name)
			return err
		},
	}
}

// sealFile reads path and seals it with the account's file key.
func sealFile(ctx context.Context, v *vault, path string) ([]byte, error) {
	plain, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fk, err := v.fileKey(ctx)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(fk)
	return cryptox.Seal(fk, plain)
}

func newUploadCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Encrypt and store a file, printing its location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			v, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer v.close(ctx)

			sealed, err := sealFile(ctx, v, args[0])
			if err != nil {
				return err
			}
			loc, err := v.conn.UploadFile(ctx, bytes.NewReader(sealed))
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), loc)
			return err
		},
	}
}

func newUpdateCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "update <location> <file>",
		Short: "Replace the content stored at a location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			v, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer v.close(ctx)

			sealed, err := sealFile(ctx, v, args[1])
			if err != nil {
				return err
			}
			if err := v.conn.UpdateFile(ctx, args[0], bytes.NewReader(sealed)); err != nil {
				return fmt.Errorf("update: %w", err)
			}
			return nil
		},
	}
}

func newDownloadCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "download <location> <file>",
		Short: "Fetch and decrypt a file; '-' writes to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			v, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer v.close(ctx)

			var buf bytes.Buffer
			if err := v.conn.GetFile(ctx, args[0], &buf); err != nil {
				return fmt.Errorf("download: %w", err)
			}
			fk, err := v.fileKey(ctx)
			if err != nil {
				return err
			}
			defer common.WipeByteArray(fk)
			plain, err := cryptox.Open(fk, buf.Bytes())
			if err != nil {
				return fmt.Errorf("decrypt: %w", err)
			}
			return writeOutput(cmd, args[1], plain)
		},
	}
}

func newRemoveCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <location>",
		Short: "Delete a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			v, err := a.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer v.close(ctx)

			if err := v.conn.RemoveFile(ctx, args[0]); err != nil {
				return fmt.Errorf("remove: %w", err)
			}
			return nil
		},
	}
}

func newKeyFileCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyfile",
		Short: "Back up or restore the sealed key file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <file>",
			Short: "Save the sealed key file; '-' writes to stdout",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := a.context(cmd)
				defer cancel()

				v, err := a.open(ctx, cmd)
				if err != nil {
					return err
				}
				defer v.close(ctx)

				var buf bytes.Buffer
				if err := v.conn.GetKeyFile(ctx, &buf); err != nil {
					return fmt.Errorf("get key file: %w", err)
				}
				return writeOutput(cmd, args[0], buf.Bytes())
			},
		},
		&cobra.Command{
			Use:   "put <file>",
			Short: "Replace the key file with a saved copy",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := a.context(cmd)
				defer cancel()

				sealed, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				v, err := a.open(ctx, cmd)
				if err != nil {
					return err
				}
				defer v.close(ctx)

				// refuse a key file this password cannot open
				fk, err := cryptox.Open(v.masterKey, sealed)
				if err != nil {
					return fmt.Errorf("key file does not match this account: %w", err)
				}
				common.WipeByteArray(fk)
				if err := v.conn.UpdateKeyFile(ctx, bytes.NewReader(sealed)); err != nil {
					return fmt.Errorf("store key file: %w", err)
				}
				return nil
			},
		},
	)
	return cmd
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return filex.WriteFileAtomic(filepath.Dir(abs), abs, data)
}
