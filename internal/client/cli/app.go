package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Fides-Storage/Server-sub000/internal/client/client"
	"github.com/Fides-Storage/Server-sub000/internal/client/config"
	"github.com/Fides-Storage/Server-sub000/internal/common"
	"github.com/Fides-Storage/Server-sub000/internal/cryptox"
	"github.com/spf13/cobra"
)

// ErrNoKeyFile means the account exists but its key file was never written,
// which happens when registration is interrupted.
var ErrNoKeyFile = errors.New("account has no key file")

// dial is a seam for tests.
var dial = client.Dial

type App struct {
	config     *config.Config
	configFile string
	in         *bufio.Reader
}

// vault is a logged-in connection plus the keys derived for it.
type vault struct {
	conn      *client.Conn
	masterKey []byte
}

func (v *vault) close(ctx context.Context) {
	_ = v.conn.Disconnect(ctx)
	common.WipeByteArray(v.masterKey)
}

// fileKey downloads and opens the sealed key file.
func (v *vault) fileKey(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := v.conn.GetKeyFile(ctx, &buf); err != nil {
		return nil, fmt.Errorf("get key file: %w", err)
	}
	if buf.Len() == 0 {
		return nil, ErrNoKeyFile
	}
	key, err := cryptox.Open(v.masterKey, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	return key, nil
}

// NewRootCommand builds the fides command tree.
func NewRootCommand() *cobra.Command {
	a := &App{config: &config.Config{}, in: bufio.NewReader(os.Stdin)}
	a.config.LoadDefaults()

	cmd := &cobra.Command{
		Use:           "fides",
		Short:         "Store end-to-end encrypted files on a Fides storage server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.configFile == "" {
				return nil
			}
			jc, err := config.ReadJson(a.configFile)
			if err != nil {
				return err
			}
			jc.ApplyTo(a.config, cmd.Flags().Changed)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "path to JSON config file")
	flags.StringVar(&a.config.ServerAddr, config.FlagServer, a.config.ServerAddr, "server host:port")
	flags.StringVar(&a.config.CAFile, config.FlagCAFile, a.config.CAFile, "PEM bundle to verify the server certificate")
	flags.StringVar(&a.config.ServerName, config.FlagServerName, a.config.ServerName, "expected server certificate name")
	flags.BoolVar(&a.config.Insecure, config.FlagInsecure, a.config.Insecure, "connect without TLS")
	flags.DurationVar(&a.config.Timeout, config.FlagTimeout, a.config.Timeout, "timeout for the whole command")
	flags.StringVarP(&a.config.User, config.FlagUser, "u", a.config.User, "username (prompted when empty)")

	cmd.AddCommand(
		newRegisterCommand(a),
		newUploadCommand(a),
		newDownloadCommand(a),
		newUpdateCommand(a),
		newRemoveCommand(a),
		newKeyFileCommand(a),
	)
	return cmd
}

func (a *App) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if a.config.Timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), a.config.Timeout)
}

func (a *App) username(w io.Writer) (string, error) {
	if a.config.User != "" {
		return a.config.User, nil
	}
	name, err := GetSimpleText(a.in, "Username", w)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errors.New("empty username")
	}
	return name, nil
}

// credentials prompts for the password and derives the master key and the
// credential hash sent to the server.
func (a *App) credentials(w io.Writer, username string, confirm bool) ([]byte, string, error) {
	pw, err := GetPassword("Password", w)
	if err != nil {
		return nil, "", err
	}
	defer common.WipeByteArray(pw)
	if confirm {
		again, err := GetPassword("Repeat password", w)
		if err != nil {
			return nil, "", err
		}
		defer common.WipeByteArray(again)
		if !bytes.Equal(pw, again) {
			return nil, "", errors.New("passwords do not match")
		}
	}
	mk := cryptox.DeriveMasterKey(pw, cryptox.Salt(username))
	return mk, cryptox.CredentialHash(mk), nil
}

func (a *App) connect(ctx context.Context) (*client.Conn, error) {
	tc, err := a.config.TLSConfig()
	if err != nil {
		return nil, err
	}
	return dial(ctx, a.config.ServerAddr, tc)
}

// open logs in and returns the session's vault.
func (a *App) open(ctx context.Context, cmd *cobra.Command) (*vault, error) {
	w := cmd.ErrOrStderr()
	name, err := a.username(w)
	if err != nil {
		return nil, err
	}
	mk, hash, err := a.credentials(w, name, false)
	if err != nil {
		return nil, err
	}
	conn, err := a.connect(ctx)
	if err != nil {
		common.WipeByteArray(mk)
		return nil, err
	}
	if err := conn.Login(ctx, name, hash); err != nil {
		conn.Close()
		common.WipeByteArray(mk)
		return nil, fmt.Errorf("login: %w", err)
	}
	return &vault{conn: conn, masterKey: mk}, nil
}
