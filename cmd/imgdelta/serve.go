/*
 * Copyright 2016 ClusterHQ
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/sectorimg/imgdelta/internal/diag"
	"github.com/sectorimg/imgdelta/internal/diagapi"
	"github.com/sectorimg/imgdelta/internal/store"
)

func newServeCmd(logger *diag.Logger) *cobra.Command {
	var (
		journalPath string
		addr        string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve a read-only view of past diff runs over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				j   *store.Store
				err error
			)
			if _, statErr := os.Stat(journalPath); statErr == nil {
				j, err = store.Open(journalPath)
			} else {
				j, err = store.Create(journalPath)
			}
			if err != nil {
				return err
			}
			defer j.Close()

			logger.Info("serving run journal %s on %s", journalPath, addr)
			return http.ListenAndServe(addr, diagapi.NewMux(j))
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "imgdelta.db", "path to the run journal database")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	return cmd
}
