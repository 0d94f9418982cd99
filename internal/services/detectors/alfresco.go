package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/concordia/internal/common"
	"github.com/ternarybob/concordia/internal/interfaces"
	"github.com/ternarybob/concordia/internal/models"
)

const (
	alfrescoDebounceWindow = 30 * time.Second
	alfrescoPageSize       = 100
	defaultStompPort       = 61613

	stompHeartbeatGrace = 5 * time.Second

	alfrescoRootNode = "-root-"

	eventNodeCreated = "org.alfresco.event.node.Created"
	eventNodeUpdated = "org.alfresco.event.node.Updated"
	eventNodeDeleted = "org.alfresco.event.node.Deleted"
)

// AlfrescoDetector monitors an Alfresco repository through its public REST
// API, with node lifecycle events delivered over the broker's repo event2
// topic. Connection params: base_url, username, password (required);
// root_node_id, stomp_host, stomp_port (optional). Without stomp_host the
// detector is periodic-refresh only.
type AlfrescoDetector struct {
	*base
	baseURL    string
	username   string
	password   string
	rootNodeID string
	stompHost  string
	stompPort  int

	httpClient  *http.Client
	broadcaster *stompBroadcaster

	cancelStream context.CancelFunc
	wg           sync.WaitGroup
}

// NewAlfrescoDetector creates an Alfresco detector for one config
func NewAlfrescoDetector(logger arbor.ILogger, config *models.DataSourceConfig, reingest interfaces.ReingestFunc) (*AlfrescoDetector, error) {
	if err := config.RequireParams("base_url", "username", "password"); err != nil {
		return nil, err
	}

	rootNodeID := config.StringParam("root_node_id")
	if rootNodeID == "" {
		rootNodeID = alfrescoRootNode
	}

	port := defaultStompPort
	if raw := config.StringParam("stomp_port"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &port); err != nil {
			return nil, fmt.Errorf("invalid stomp_port %q: %w", raw, err)
		}
	}

	return &AlfrescoDetector{
		base:       newBase(logger, config, reingest, alfrescoDebounceWindow),
		baseURL:    strings.TrimRight(config.StringParam("base_url"), "/"),
		username:   config.StringParam("username"),
		password:   config.StringParam("password"),
		rootNodeID: rootNodeID,
		stompHost:  config.StringParam("stomp_host"),
		stompPort:  port,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// SourceType returns the source type this detector serves
func (d *AlfrescoDetector) SourceType() string {
	return models.SourceTypeAlfresco
}

// HasChangeStream reports whether a STOMP broker is configured
func (d *AlfrescoDetector) HasChangeStream() bool {
	return d.stompHost != ""
}

// Start verifies repository access, seeds known ids, and attaches to the
// shared broker broadcaster when one is configured
func (d *AlfrescoDetector) Start(ctx context.Context) error {
	if _, err := d.getNode(ctx, d.rootNodeID); err != nil {
		return fmt.Errorf("root node %s is not accessible: %w", d.rootNodeID, err)
	}

	listing, err := d.ListAllFiles(ctx)
	if err != nil {
		return err
	}
	d.seedKnown(listing)
	d.markStarted()

	if d.HasChangeStream() {
		broadcaster, err := acquireBroadcaster(d.logger, d.stompHost, d.stompPort, d.username, d.password)
		if err != nil {
			return err
		}
		d.broadcaster = broadcaster
		mailbox := broadcaster.register(d.config.ID)

		streamCtx, cancel := context.WithCancel(context.Background())
		d.cancelStream = cancel
		d.wg.Add(1)
		common.SafeGoWithContext(streamCtx, d.logger, "alfrescoEventLoop", func(ctx context.Context) {
			d.eventLoop(ctx, mailbox)
		})
	}

	d.logger.Info().
		Str("config_id", d.config.ID).
		Str("base_url", d.baseURL).
		Bool("change_stream", d.HasChangeStream()).
		Int("known", d.knownCount()).
		Msg("Alfresco detector started")

	return nil
}

// Stop detaches from the broadcaster and stops the event loop
func (d *AlfrescoDetector) Stop() error {
	if d.cancelStream != nil {
		d.cancelStream()
	}
	if d.broadcaster != nil {
		d.broadcaster.unregister(d.config.ID)
	}
	d.wg.Wait()
	d.closeSignals()
	return nil
}

// ListAllFiles walks the folder tree under the configured root node
func (d *AlfrescoDetector) ListAllFiles(ctx context.Context) ([]models.FileMetadata, error) {
	var metas []models.FileMetadata
	folders := []string{d.rootNodeID}

	for len(folders) > 0 {
		folderID := folders[0]
		folders = folders[1:]

		skip := 0
		for {
			page, err := d.listChildren(ctx, folderID, skip)
			if err != nil {
				return nil, err
			}
			for _, entry := range page.List.Entries {
				node := entry.Entry
				if node.IsFolder {
					folders = append(folders, node.ID)
					continue
				}
				if !node.IsFile || node.NodeType == "cm:thumbnail" {
					continue
				}
				metas = append(metas, d.nodeMetadata(node))
			}
			if !page.List.Pagination.HasMoreItems {
				break
			}
			skip += len(page.List.Entries)
		}
	}

	return metas, nil
}

// LoadFile downloads a node's content rendition
func (d *AlfrescoDetector) LoadFile(ctx context.Context, meta models.FileMetadata) ([]byte, error) {
	nodeID := meta.SourceID()
	body, err := d.get(ctx, fmt.Sprintf("/nodes/%s/content", url.PathEscape(nodeID)))
	if err != nil {
		return nil, fmt.Errorf("failed to download node %s: %w", nodeID, err)
	}
	return body, nil
}

type alfrescoNode struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	NodeType   string     `json:"nodeType"`
	IsFile     bool       `json:"isFile"`
	IsFolder   bool       `json:"isFolder"`
	ModifiedAt *time.Time `json:"modifiedAt"`
	Content    struct {
		MimeType    string `json:"mimeType"`
		SizeInBytes int64  `json:"sizeInBytes"`
	} `json:"content"`
}

type alfrescoChildrenPage struct {
	List struct {
		Pagination struct {
			HasMoreItems bool `json:"hasMoreItems"`
		} `json:"pagination"`
		Entries []struct {
			Entry alfrescoNode `json:"entry"`
		} `json:"entries"`
	} `json:"list"`
}

func (d *AlfrescoDetector) listChildren(ctx context.Context, folderID string, skip int) (*alfrescoChildrenPage, error) {
	path := fmt.Sprintf("/nodes/%s/children?skipCount=%d&maxItems=%d", url.PathEscape(folderID), skip, alfrescoPageSize)
	body, err := d.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of %s: %w", folderID, err)
	}

	var page alfrescoChildrenPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("failed to decode children of %s: %w", folderID, err)
	}
	return &page, nil
}

func (d *AlfrescoDetector) getNode(ctx context.Context, nodeID string) (*alfrescoNode, error) {
	body, err := d.get(ctx, fmt.Sprintf("/nodes/%s", url.PathEscape(nodeID)))
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Entry alfrescoNode `json:"entry"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode node %s: %w", nodeID, err)
	}
	return &wrapper.Entry, nil
}

func (d *AlfrescoDetector) get(ctx context.Context, path string) ([]byte, error) {
	fullURL := d.baseURL + "/api/-default-/public/alfresco/versions/1" + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(d.username, d.password)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alfresco returned status %d for %s", resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}

func (d *AlfrescoDetector) nodeMetadata(node alfrescoNode) models.FileMetadata {
	meta := models.FileMetadata{
		SourceType: models.SourceTypeAlfresco,
		Path:       common.SchemeAlfresco + node.ID,
		SizeBytes:  node.Content.SizeInBytes,
		MimeType:   node.Content.MimeType,
	}
	meta.SetSourceID(node.ID)
	if node.ModifiedAt != nil {
		meta.ModifiedTimestamp = node.ModifiedAt
		meta.Ordinal = models.OrdinalFromTime(*node.ModifiedAt)
	} else {
		meta.Ordinal = models.OrdinalNow()
	}
	return meta
}

// alfrescoEvent is the repo event2 envelope. The node's ancestor chain
// rides along in primaryHierarchy, which is what scopes events to the
// configured root folder.
type alfrescoEvent struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data struct {
		Resource struct {
			alfrescoNode
			PrimaryHierarchy []string `json:"primaryHierarchy"`
		} `json:"resource"`
	} `json:"data"`
}

func (d *AlfrescoDetector) eventLoop(ctx context.Context, mailbox <-chan []byte) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case frame, ok := <-mailbox:
			if !ok {
				d.logger.Warn().
					Str("config_id", d.config.ID).
					Msg("Broker connection lost, event stream ended")
				d.publish(models.DetectorSignal{Kind: models.SignalEnd})
				return
			}
			d.handleFrame(ctx, frame)
		}
	}
}

func (d *AlfrescoDetector) handleFrame(ctx context.Context, frame []byte) {
	var event alfrescoEvent
	if err := json.Unmarshal(frame, &event); err != nil {
		d.logger.Debug().
			Err(err).
			Str("config_id", d.config.ID).
			Msg("Skipping undecodable broker frame")
		return
	}

	resource := event.Data.Resource
	if !resource.IsFile || resource.NodeType == "cm:thumbnail" {
		return
	}
	if !d.underRoot(resource.PrimaryHierarchy) {
		return
	}
	// The topic has no durable cursor; events from before start are covered
	// by the initial listing
	if !event.Time.IsZero() && !d.fresh(event.Time) {
		return
	}

	var changeType models.ChangeType
	switch event.Type {
	case eventNodeCreated:
		changeType = models.ChangeCreate
	case eventNodeUpdated:
		changeType = models.ChangeUpdate
	case eventNodeDeleted:
		changeType = models.ChangeDelete
	default:
		return
	}

	d.dispatch(ctx, changeType, d.nodeMetadata(resource.alfrescoNode))
}

// underRoot reports whether the node's ancestor chain passes through the
// configured root. The synthetic -root- scope admits everything.
func (d *AlfrescoDetector) underRoot(hierarchy []string) bool {
	if d.rootNodeID == alfrescoRootNode {
		return true
	}
	for _, id := range hierarchy {
		if id == d.rootNodeID {
			return true
		}
	}
	return false
}
