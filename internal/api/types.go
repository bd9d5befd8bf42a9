package api

import (
	"fmt"

	"github.com/rescale/shellxfer/internal/channel"
	"github.com/rescale/shellxfer/internal/history"
	"github.com/rescale/shellxfer/internal/transfer"
)

// DestinationRequest names the remote host. Omitted fields fall back to the
// server's default destination.
type DestinationRequest struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	AuthKind string `json:"auth_kind,omitempty"`

	// Credential is a password or passphrase; KeyMaterial is a key path or PEM.
	Credential  string `json:"credential,omitempty"`
	KeyMaterial string `json:"key_material,omitempty"`
}

// TransferRequest is the body of POST /v1/transfers.
type TransferRequest struct {
	Kind              transfer.TaskKind   `json:"kind"`
	RemotePath        string              `json:"remote_path"`
	LocalPath         string              `json:"local_path"`
	TotalBytes        int64               `json:"total_bytes,omitempty"`
	DisplayName       string              `json:"display_name,omitempty"`
	ShowSuccessNotice *bool               `json:"show_success_notice,omitempty"`
	ShowReloadNotice  bool                `json:"show_reload_notice,omitempty"`
	Destination       *DestinationRequest `json:"destination,omitempty"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Stats transfer.Stats      `json:"stats"`
	Tasks []transfer.TaskInfo `json:"tasks"`
}

// CancelResponse is the body of POST /v1/cancel.
type CancelResponse struct {
	Canceled bool `json:"canceled"`
}

// HistoryResponse is the body of GET /v1/history.
type HistoryResponse struct {
	Records []history.Record `json:"records"`
}

// resolve merges d over def into a channel destination.
func (d *DestinationRequest) resolve(def channel.Destination) (channel.Destination, error) {
	dest := def
	if d == nil {
		return dest, dest.Validate()
	}
	if d.Host != "" {
		dest.Host = d.Host
	}
	if d.Port != 0 {
		dest.Port = d.Port
	}
	if d.Username != "" {
		dest.Username = d.Username
	}
	if d.AuthKind != "" {
		kind, err := channel.ParseAuthKind(d.AuthKind)
		if err != nil {
			return channel.Destination{}, err
		}
		dest.AuthKind = kind
	}
	if d.Credential != "" {
		dest.Credential = d.Credential
	}
	if d.KeyMaterial != "" {
		dest.KeyMaterialRef = d.KeyMaterial
		if d.AuthKind == "" {
			dest.AuthKind = channel.AuthKey
		}
	}
	return dest, dest.Validate()
}

// taskSpec converts a request into an engine task. Stream uploads cannot
// cross the API: the server has no access to the caller's stdin.
func (r *TransferRequest) taskSpec(def channel.Destination) (transfer.TaskSpec, error) {
	switch r.Kind {
	case transfer.KindDownload, transfer.KindUploadFromFile:
	default:
		return transfer.TaskSpec{}, fmt.Errorf("unsupported transfer kind %q (want %s or %s)",
			r.Kind, transfer.KindDownload, transfer.KindUploadFromFile)
	}
	dest, err := r.Destination.resolve(def)
	if err != nil {
		return transfer.TaskSpec{}, err
	}
	showSuccess := true
	if r.ShowSuccessNotice != nil {
		showSuccess = *r.ShowSuccessNotice
	}
	return transfer.TaskSpec{
		Kind:              r.Kind,
		DisplayName:       r.DisplayName,
		RemotePath:        r.RemotePath,
		TotalBytes:        r.TotalBytes,
		LocalPath:         r.LocalPath,
		ShowSuccessNotice: showSuccess,
		ShowReloadNotice:  r.ShowReloadNotice,
		Destination:       dest,
	}, nil
}
