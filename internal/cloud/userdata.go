package cloud

import (
	"bytes"
	"fmt"
	"text/template"
)

// UserDataParams are the values injected into the guest install script. The
// script installs the relay software and, on success, publishes the
// management URL and certificate fingerprint back through the provider's tag
// channel, where DiscoverBootstrapSecrets picks them up.
type UserDataParams struct {
	// AccessToken authorizes the guest to publish its tags back to the
	// provider where the channel requires one.
	AccessToken string
	// ServerName is the default display name the relay reports.
	ServerName string
	// ContainerImage overrides the relay container image. Optional.
	ContainerImage string
	// MetricsURL enables usage reporting when set. Optional.
	MetricsURL string
	// ErrorReportingURL enables crash reporting when set. Optional.
	ErrorReportingURL string
	// PublishCommand is the provider-specific shell snippet that writes a
	// key/value pair into the tag channel. It is invoked as
	// `publish_tag <key> <value>`.
	PublishCommand string
}

var userDataTemplate = template.Must(template.New("userdata").Parse(`#!/bin/bash -eu
export ACCESS_TOKEN='{{.AccessToken}}'
export SERVER_NAME='{{.ServerName}}'
{{- if .ContainerImage}}
export CONTAINER_IMAGE='{{.ContainerImage}}'
{{- end}}
{{- if .MetricsURL}}
export METRICS_URL='{{.MetricsURL}}'
{{- end}}
{{- if .ErrorReportingURL}}
export ERROR_REPORTING_URL='{{.ErrorReportingURL}}'
{{- end}}

publish_tag() {
{{.PublishCommand}}
}

curl -fsSL https://raw.githubusercontent.com/outpost-vpn/relay/master/install.sh -o /tmp/install_relay.sh
bash /tmp/install_relay.sh

# The installer writes its outputs here on success.
source /opt/outpost/access.env
publish_tag '{{.ManagementURLKey}}' "${MANAGEMENT_API_URL}"
publish_tag '{{.CertFingerprintKey}}' "${CERT_SHA256}"
`))

type userDataView struct {
	UserDataParams
	ManagementURLKey   string
	CertFingerprintKey string
}

// RenderUserData renders the guest bootstrap script for an instance.
func RenderUserData(params UserDataParams) (string, error) {
	if params.PublishCommand == "" {
		return "", fmt.Errorf("userdata: publish command is required")
	}
	var buf bytes.Buffer
	view := userDataView{
		UserDataParams:     params,
		ManagementURLKey:   TagKeyManagementURL,
		CertFingerprintKey: TagKeyCertFingerprint,
	}
	if err := userDataTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("userdata: %w", err)
	}
	return buf.String(), nil
}
