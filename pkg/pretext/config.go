// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pretext

import (
	"bytes"
	"io"
	"math"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gomlx/graphssl/pkg/hparams"
)

// decodeConfig fills config (a pointer to a struct with yaml tags, pre-filled with the defaults) with params.
//
// Unknown keys are an error.
func decodeConfig(params hparams.Params, config any) error {
	if len(params) == 0 {
		return nil
	}
	encoded, err := yaml.Marshal(map[string]any(params))
	if err != nil {
		return errors.Wrapf(err, "encoding pretext parameters %v", params)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(encoded))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && err != io.EOF {
		return errors.Wrapf(err, "invalid pretext parameters %v", params)
	}
	return nil
}

// checkRatio returns an error if value is not in [0, 1].
func checkRatio(name string, value float64) error {
	if math.IsNaN(value) || value < 0 || value > 1 {
		return errors.Errorf("%s=%g must be in the range [0, 1]", name, value)
	}
	return nil
}

// AttributeMaskConfig configures the "attribute_mask" task.
type AttributeMaskConfig struct {
	// NodeMaskRatio is the fraction of the unlabeled nodes whose features are masked. Default 0.1.
	NodeMaskRatio float64 `yaml:"node_mask_ratio"`
}

// CorruptedFeaturesConfig configures the "corrupted_features_reconstruction" task.
type CorruptedFeaturesConfig struct {
	// FeatureCorruptionRatio is the fraction of feature columns zeroed. Default 0.1.
	FeatureCorruptionRatio float64 `yaml:"feature_corruption_ratio"`

	// PartialFeatureReconstruction: if true only the corrupted columns are reconstructed, otherwise all of
	// them. Default true.
	PartialFeatureReconstruction bool `yaml:"partial_feature_reconstruction"`
}

// CorruptedEmbeddingsConfig configures the "corrupted_embeddings_reconstruction" task.
type CorruptedEmbeddingsConfig struct {
	// EmbeddingCorruptionRatio is the fraction of embedding columns zeroed. Default 0.1.
	EmbeddingCorruptionRatio float64 `yaml:"embedding_corruption_ratio"`

	// PartialEmbeddingReconstruction: if true only the corrupted columns are reconstructed. Default true.
	PartialEmbeddingReconstruction bool `yaml:"partial_embedding_reconstruction"`
}

// ContrastiveConfig configures the "grace" and "gca" tasks.
type ContrastiveConfig struct {
	// Tau is the temperature of the InfoNCE loss. Default 0.5.
	Tau float64 `yaml:"tau"`

	// EdgeMaskRatio1 and EdgeMaskRatio2 are the fractions of edges dropped in each view. Default 0.2.
	EdgeMaskRatio1 float64 `yaml:"edge_mask_ratio1"`
	EdgeMaskRatio2 float64 `yaml:"edge_mask_ratio2"`

	// FeatureMaskRatio1 and FeatureMaskRatio2 are the fractions of feature columns masked in each view. Default 0.2.
	FeatureMaskRatio1 float64 `yaml:"feature_mask_ratio1"`
	FeatureMaskRatio2 float64 `yaml:"feature_mask_ratio2"`

	// Threshold caps the drop probability of any single edge or feature in "gca". Default 0.7.
	Threshold float64 `yaml:"threshold"`
}

// GraphInfoClustConfig configures the "graph_info_clust" task.
type GraphInfoClustConfig struct {
	// ClusterRatio: the number of clusters is ceil(num_nodes * ClusterRatio). Default 0.1.
	ClusterRatio float64 `yaml:"cluster_ratio"`

	// Temperature of the soft cluster assignment. Default 5.
	Temperature float64 `yaml:"temperature"`

	// Alpha weights the global (DGI) loss, and 1-Alpha the cluster loss. Must be in [0, 1]. Default 0.5.
	Alpha float64 `yaml:"alpha"`

	// Iterations of the soft k-means, after one initialization iteration. Default 11.
	Iterations int `yaml:"iterations"`
}

// SubgConConfig configures the "subg_con" task.
type SubgConConfig struct {
	// Alpha is the restart probability of the diffusion. Must be in [0, 1]. Default 0.85.
	Alpha float64 `yaml:"alpha"`

	// K is the number of neighbors (besides the node itself) in each subgraph. Must be > 0. Default 20.
	K int `yaml:"k"`

	// Margin of the ranking loss. Default 0.5.
	Margin float64 `yaml:"margin"`

	// Diffusion strategy used to rank neighbors: "pinv" (default) or "ppr".
	Diffusion string `yaml:"diffusion"`
}

// SiameseConfig configures the siamese tasks: "bgrl" and the "selfgnn_*" family.
type SiameseConfig struct {
	// Beta is the base decay of the teacher EMA, which follows a cosine schedule up to 1. Default 0.99.
	Beta float64 `yaml:"beta"`

	// PredictorHidden is the hidden dimension of the student predictor. Default 2 * encoder output channels.
	PredictorHidden int `yaml:"predictor_hidden"`

	// Epochs is the length of the EMA schedule, in training steps. Default is the number of training epochs.
	Epochs int `yaml:"epochs"`

	// Edge and feature masking ratios of the dropout views ("bgrl"). Default 0.2.
	EdgeMaskRatio1    float64 `yaml:"edge_mask_ratio1"`
	EdgeMaskRatio2    float64 `yaml:"edge_mask_ratio2"`
	FeatureMaskRatio1 float64 `yaml:"feature_mask_ratio1"`
	FeatureMaskRatio2 float64 `yaml:"feature_mask_ratio2"`

	// PPRAlpha is the restart probability of the personalized PageRank view ("selfgnn_ppr"). Default 0.15.
	PPRAlpha float64 `yaml:"ppr_alpha"`

	// PPRTopK is the number of incoming edges kept per node in the PageRank view. Default 128.
	PPRTopK int `yaml:"ppr_top_k"`
}
