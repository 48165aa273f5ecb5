package web

import (
	"log"
	"net/http"

	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/util"
	"github.com/gin-gonic/gin"
)

const nodeInfoSchema20 = "http://nodeinfo.diaspora.software/ns/schema/2.0"

// NodeInfo20 represents the NodeInfo 2.0 schema
// See: https://nodeinfo.diaspora.software/schema.html
type NodeInfo20 struct {
	Version           string           `json:"version"`
	Software          NodeInfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	Services          NodeInfoServices `json:"services"`
	OpenRegistrations bool             `json:"openRegistrations"`
	Usage             NodeInfoUsage    `json:"usage"`
	Metadata          NodeInfoMetadata `json:"metadata"`
}

type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type NodeInfoServices struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

type NodeInfoUsage struct {
	Users      NodeInfoUsers `json:"users"`
	LocalPosts int           `json:"localPosts"`
}

type NodeInfoUsers struct {
	Total int `json:"total"`
}

type NodeInfoMetadata struct {
	NodeName       string `json:"nodeName"`
	LocalMagazines int    `json:"localMagazines"`
	KnownInstances int    `json:"knownInstances"`
}

// WellKnownNodeInfo represents the /.well-known/nodeinfo response
type WellKnownNodeInfo struct {
	Links []NodeInfoLink `json:"links"`
}

type NodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// GetNodeInfo20 builds the NodeInfo 2.0 document from instance statistics.
func GetNodeInfo20(localDomain string, stats *db.Stats) NodeInfo20 {
	return NodeInfo20{
		Version:   "2.0",
		Software:  NodeInfoSoftware{Name: util.Name, Version: util.GetVersion()},
		Protocols: []string{"activitypub"},
		Services:  NodeInfoServices{Inbound: []string{}, Outbound: []string{}},
		Usage: NodeInfoUsage{
			Users:      NodeInfoUsers{Total: stats.LocalUsers},
			LocalPosts: stats.LocalPosts,
		},
		Metadata: NodeInfoMetadata{
			NodeName:       localDomain,
			LocalMagazines: stats.LocalMagazines,
			KnownInstances: stats.KnownInstances,
		},
	}
}

// GetWellKnownNodeInfo returns the /.well-known/nodeinfo discovery document
func GetWellKnownNodeInfo(localDomain string) WellKnownNodeInfo {
	return WellKnownNodeInfo{
		Links: []NodeInfoLink{
			{Rel: nodeInfoSchema20, Href: "https://" + localDomain + "/nodeinfo/2.0"},
		},
	}
}

func (s *Server) handleNodeInfo(c *gin.Context) {
	var stats *db.Stats
	err := s.db.InTx(c.Request.Context(), func(tx *db.Tx) error {
		var err error
		stats, err = tx.ReadStats()
		return err
	})
	if err != nil {
		log.Printf("Failed to read instance statistics: %v", err)
		stats = &db.Stats{}
	}
	c.JSON(http.StatusOK, GetNodeInfo20(s.localDomain, stats))
}
