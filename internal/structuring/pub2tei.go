package structuring

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// dummyDTDFiles are staged alongside the batch input so Pub2TEI's Saxon
// transform never attempts an online DTD fetch for documents that
// declare one of JATS's standard public DTDs.
var dummyDTDFiles = []string{
	"JATS-archivearticle1.dtd",
	"JATS-archivearticle1-mathml3.dtd",
	"archivearticle1-mathml3.dtd",
	"archivearticle1.dtd",
	"archivearticle3.dtd",
	"journalpublishing.dtd",
	"archivearticle.dtd",
}

// Pub2TEIConfig configures a Pub2TEI batch client.
type Pub2TEIConfig struct {
	// JATSTransformerPath is the root of a cloned Pub2TEI installation
	// (https://github.com/kermitt2/Pub2TEI): it must contain
	// Samples/saxon9he.jar and Stylesheets/Publishers.xsl.
	JATSTransformerPath string
	// JavaBin is the java binary Saxon is invoked with. Defaults to
	// "java" on PATH. Requires a JRE 8 or newer.
	JavaBin string
}

func (c *Pub2TEIConfig) applyDefaults() {
	if c.JavaBin == "" {
		c.JavaBin = "java"
	}
}

// Pub2TEIClient structures JATS/NLM XML documents into TEI XML by
// invoking Pub2TEI's Saxon/XSLT transform once per StructureBatch call,
// over every document staged in a working directory: Pub2TEI is run in
// batch to have good runtime, so a single Entry at a time defeats the
// point. The Reverse Transform Pass stages a whole backlog and calls
// StructureBatch once, rather than once per entry.
type Pub2TEIClient struct {
	config Pub2TEIConfig
}

// NewPub2TEIClient constructs a Pub2TEIClient.
func NewPub2TEIClient(cfg Pub2TEIConfig) *Pub2TEIClient {
	cfg.applyDefaults()
	return &Pub2TEIClient{config: cfg}
}

// StructureBatch stages dummy DTD files into inputDir, then runs
// Pub2TEI's Saxon/XSLT transform once over every file already present
// there, writing results into outputDir. Output filenames retain the
// input's name with ".xml" appended by Saxon's directory-output mode;
// callers recover the original identifier via the filename's first
// dot-separated segment, matching Pub2TEI's own batch wrapper
// convention.
func (c *Pub2TEIClient) StructureBatch(ctx context.Context, inputDir, outputDir string) error {
	if c.config.JATSTransformerPath == "" {
		return fmt.Errorf("%w: jats_transformer_path not configured", ErrStructuringFailed)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("structuring: mkdir output dir: %w", err)
	}
	for _, dtd := range dummyDTDFiles {
		if err := os.WriteFile(filepath.Join(inputDir, dtd), nil, 0o644); err != nil {
			return fmt.Errorf("structuring: stage dummy dtd %s: %w", dtd, err)
		}
	}

	saxonJar := filepath.Join(c.config.JATSTransformerPath, "Samples", "saxon9he.jar")
	stylesheet := filepath.Join(c.config.JATSTransformerPath, "Stylesheets", "Publishers.xsl")

	cmd := exec.CommandContext(ctx, c.config.JavaBin,
		"-jar", saxonJar,
		"-s:"+inputDir,
		"-xsl:"+stylesheet,
		"-o:"+outputDir,
		"-dtd:off", "-a:off", "-expand:off", "-t",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: pub2tei batch transform failed: %w", ErrStructuringFailed, err)
	}
	return nil
}
