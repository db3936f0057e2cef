package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/beevik/etree"

	vperrors "github.com/johnnybubonic/vaultpass/internal/errors"
)

// UpdateAuth writes a new unseal shard and token into the document. A
// non-token <auth> is replaced by a token one. The edited document is
// re-checked the way it was loaded. For a local-file source the previous
// file is kept as <path>.bak_<unix-seconds> and the document is written
// back.
func (d *Document) UpdateAuth(ctx context.Context, shard, token string) error {
	if server := d.findNS("server"); server == nil {
		server = d.newElement("server")
		d.insertFirst(server)
	}

	unseal := d.findNS("server", "unseal")
	if unseal == nil {
		if gpgUnseal := d.findNS("server", "unsealGpg"); gpgUnseal != nil {
			unseal = d.newElement("unseal")
			d.replace(gpgUnseal, unseal)
		} else {
			unseal = d.newElement("unseal")
			d.appendChild(d.findNS("server"), unseal)
		}
		unseal = d.findNS("server", "unseal")
	}
	d.setText(unseal, shard)

	auth := d.findNS("auth")
	if auth == nil {
		auth = d.findNS("authGpg")
	}
	tokenEl := d.findNS("auth", "token")
	if tokenEl == nil {
		fresh := d.newElement("auth")
		fresh.AddChild(d.newElement("token"))
		if auth != nil {
			d.replace(auth, fresh)
		} else {
			d.appendChild(d.NamespacedRoot(), fresh)
		}
		tokenEl = d.findNS("auth", "token")
	}
	if tokenEl.SelectAttr("source") != nil {
		d.removeAttr(tokenEl, "source")
	}
	d.setText(tokenEl, token)

	d.restrip()
	if d.recheck != nil {
		if err := d.recheck(ctx, d); err != nil {
			return err
		}
	}

	if d.source.Kind != SourceLocal {
		return nil
	}
	return d.writeBack()
}

func (d *Document) writeBack() error {
	path := d.source.Ref
	prior, err := os.ReadFile(path)
	if err != nil {
		return vperrors.ConfigError{Field: "source", Value: path, Message: "cannot read configuration for backup", Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return vperrors.ConfigError{Field: "source", Value: path, Message: "cannot stat configuration", Err: err}
	}

	backup := fmt.Sprintf("%s.bak_%d", path, time.Now().UTC().Unix())
	if err := os.WriteFile(backup, prior, 0600); err != nil {
		return vperrors.ConfigError{Field: "source", Value: backup, Message: "cannot write backup", Err: err}
	}

	out, err := d.Bytes()
	if err != nil {
		return vperrors.ConfigError{Field: "document", Message: "cannot serialize configuration", Err: err}
	}
	if err := os.WriteFile(path, out, info.Mode().Perm()); err != nil {
		return vperrors.ConfigError{Field: "source", Value: path, Message: "cannot write configuration", Err: err}
	}
	return nil
}

func (d *Document) insertFirst(el *etree.Element) {
	root := d.NamespacedRoot()
	root.InsertChildAt(0, el)
	d.restrip()
}

func (d *Document) removeAttr(el *etree.Element, key string) {
	if twin := d.counterpart(el); twin != nil {
		twin.RemoveAttr(key)
	}
	el.RemoveAttr(key)
}
