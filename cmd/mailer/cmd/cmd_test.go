package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/provider"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/templates"
)

func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

type stubProvider struct {
	mu   sync.Mutex
	sent []*domain.EmailMessage
}

func (*stubProvider) Name() domain.ProviderType { return domain.ProviderSMTP }

func (p *stubProvider) Deliver(_ context.Context, msg *domain.EmailMessage) (*domain.DeliveryAck, error) {
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	if strings.HasPrefix(msg.To, "reject") {
		return nil, &provider.DeliveryError{Kind: provider.KindSend, Provider: domain.ProviderSMTP, StatusCode: 550, Err: errors.New("no such user")}
	}
	return &domain.DeliveryAck{Provider: domain.ProviderSMTP, MessageID: "<" + msg.ID + "@test>"}, nil
}

// stubbed routes deliveries of a command tree to p.
func stubbed(p *stubProvider) *cobra.Command {
	return NewRootCmd(campaign.WithProviderFactory(
		func(context.Context, domain.ProviderConfig) (provider.Provider, error) { return p, nil },
	))
}

// workspace writes a config, template and recipient file into a temp dir.
func workspace(t *testing.T, rows string) (configPath, tplPath, rowsPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
provider:
  type: smtp
  from_email: news@example.com
  smtp:
    host: localhost
    port: 2525
store:
  dsn: %s
export:
  dir: %s
metrics:
  enabled: false
`, filepath.Join(dir, "outcomes.db"), filepath.Join(dir, "logs"))), 0644))

	tplPath = filepath.Join(dir, "welcome.yaml")
	require.NoError(t, os.WriteFile(tplPath, []byte(`
subject: "Hello {name}"
text_body: "Hi {name}, greetings from {company}."
`), 0644))

	rowsPath = filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(rowsPath, []byte(rows), 0644))
	return configPath, tplPath, rowsPath, dir
}

const sampleRows = "name,email,email_campaign_selected\n" +
	"Ann,ann@x.com,True\n" +
	"Bo,not-an-email,False\n" +
	"Cy,reject@x.com,True\n"

func TestRunCommand(t *testing.T) {
	cfg, tpl, rows, dir := workspace(t, sampleRows)

	out, progress, err := executeCommand(stubbed(&stubProvider{}),
		"--config", cfg, "run", "-r", rows, "-t", tpl,
		"--var", "company=Ignite", "--campaign", "spring", "--save-log")
	require.NoError(t, err)

	assert.Contains(t, out, "Campaign: spring")
	assert.Contains(t, out, "Sent: 1  Failed: 1  Skipped: 1")
	assert.Contains(t, progress, "[3/3]")
	assert.Contains(t, progress, "Log saved to")

	logs, err := filepath.Glob(filepath.Join(dir, "logs", "email_log_spring_*.json"))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestRunCommand_OnlySelectedAndResume(t *testing.T) {
	cfg, tpl, rows, _ := workspace(t, sampleRows)

	_, _, err := executeCommand(stubbed(&stubProvider{}),
		"--config", cfg, "run", "-r", rows, "-t", tpl, "--var", "company=Ignite",
		"--campaign", "c1", "--only-selected", "-q")
	require.NoError(t, err)

	out, _, err := executeCommand(stubbed(&stubProvider{}),
		"--config", cfg, "-o", "json", "run", "-r", rows, "-t", tpl, "--var", "company=Ignite",
		"--campaign", "c1", "--only-selected", "--resume", "-q")
	require.NoError(t, err)

	var res domain.CampaignResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.Total(), "ann@x.com was already sent")
	assert.Equal(t, 1, res.Failed)
}

func TestRunCommand_Errors(t *testing.T) {
	cfg, tpl, rows, dir := workspace(t, sampleRows)

	_, _, err := executeCommand(stubbed(&stubProvider{}), "--config", cfg, "run", "-t", tpl)
	assert.Error(t, err, "recipients flag is required")

	_, _, err = executeCommand(stubbed(&stubProvider{}), "--config", cfg, "run", "-r", rows, "-t", tpl, "--resume")
	assert.ErrorContains(t, err, "--resume requires --campaign")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("name: blank\n"), 0644))
	_, _, err = executeCommand(stubbed(&stubProvider{}), "--config", cfg, "run", "-r", rows, "-t", empty)
	assert.ErrorContains(t, err, "template is empty")
}

func TestRunCommand_BuiltinTemplate(t *testing.T) {
	cfg, tpl, _, dir := workspace(t, sampleRows)
	rows := filepath.Join(dir, "businesses.csv")
	require.NoError(t, os.WriteFile(rows, []byte("business_name,email\nTeak & Co,teak@x.com\nOak Ltd,oak@x.com\n"), 0644))

	p := &stubProvider{}
	out, _, err := executeCommand(stubbed(p),
		"--config", cfg, "run", "-r", rows, "--var", "your_company_name=Ignite", "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "Sent: 2  Failed: 0  Skipped: 0")

	require.Len(t, p.sent, 2)
	msg := p.sent[0]
	assert.Equal(t, "Business Partnership Opportunity - Ignite", msg.Subject)
	assert.Contains(t, msg.HTMLContent, "Dear Teak & Co Team,")
	assert.Contains(t, msg.HTMLContent, "My name is Your Name", "unset variables use the defaults")

	_, _, err = executeCommand(stubbed(&stubProvider{}),
		"--config", cfg, "run", "-r", rows, "--template-name", "missing")
	assert.ErrorIs(t, err, templates.ErrNotFound)

	_, _, err = executeCommand(stubbed(&stubProvider{}),
		"--config", cfg, "run", "-r", rows, "-t", tpl, "--template-name", templates.DefaultName)
	assert.Error(t, err)
}

func TestTemplatesCommand(t *testing.T) {
	out, _, err := executeCommand(NewRootCmd(), "templates")
	require.NoError(t, err)
	assert.Contains(t, out, templates.DefaultName)
}

func TestOutcomesCommand(t *testing.T) {
	cfg, tpl, rows, dir := workspace(t, sampleRows)
	_, _, err := executeCommand(stubbed(&stubProvider{}),
		"--config", cfg, "run", "-r", rows, "-t", tpl, "--var", "company=Ignite", "--campaign", "out", "-q")
	require.NoError(t, err)

	out, _, err := executeCommand(NewRootCmd(), "--config", cfg, "outcomes", "out")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "campaign_id,"))

	out, _, err = executeCommand(NewRootCmd(), "--config", cfg, "outcomes", "out", "--format", "json", "--latest")
	require.NoError(t, err)
	assert.Contains(t, out, `"sent": 1`)

	out, _, err = executeCommand(NewRootCmd(), "--config", cfg, "outcomes", "out", "--save")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "logs"))

	_, _, err = executeCommand(NewRootCmd(), "--config", cfg, "outcomes", "missing")
	assert.ErrorContains(t, err, "no recorded outcomes")

	_, _, err = executeCommand(NewRootCmd(), "--config", cfg, "outcomes", "out", "--s3")
	assert.ErrorContains(t, err, "s3 upload is not configured")

	_, _, err = executeCommand(NewRootCmd(), "--config", cfg, "outcomes", "out", "--format", "xml")
	assert.Error(t, err)
}

func TestVerifyCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  type: sendgrid
  from_email: news@example.com
  sendgrid:
    api_key: SG.test
`), 0644))

	out, _, err := executeCommand(NewRootCmd(), "--config", path, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "Provider sendgrid: OK")

	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  type: mailgun
  from_email: news@example.com
`), 0644))
	_, _, err = executeCommand(NewRootCmd(), "--config", path, "verify")
	assert.ErrorIs(t, err, provider.ErrNotConfigured)
}

func TestPresetsCommand(t *testing.T) {
	out, _, err := executeCommand(NewRootCmd(), "presets")
	require.NoError(t, err)
	assert.Contains(t, out, "gmail")
	assert.Contains(t, out, "office365")
}

func TestMigrateCommand(t *testing.T) {
	cfg, _, _, dir := workspace(t, sampleRows)
	out, _, err := executeCommand(NewRootCmd(), "--config", cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Outcome store ready (sqlite)")
	assert.FileExists(t, filepath.Join(dir, "outcomes.db"))
}

func TestVersionCommand(t *testing.T) {
	out, _, err := executeCommand(NewRootCmd(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mailer v")
	assert.Contains(t, out, "Git Commit")

	out, _, err = executeCommand(NewRootCmd(), "version", "--output", "json")
	require.NoError(t, err)
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)

	_, _, err = executeCommand(NewRootCmd(), "version", "extra")
	assert.Error(t, err)
}
